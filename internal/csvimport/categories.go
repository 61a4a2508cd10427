package csvimport

import (
	"strings"

	"github.com/dvloznov/accountbook/internal/domain"
)

// cluster maps a set of keywords onto one canonical category.
type cluster struct {
	category string
	keywords []string
}

// clusters are checked in order; the first hit wins.
var clusters = []cluster{
	{"카페/간식", []string{"카페/간식", "카페", "커피", "디저트", "베이커리", "빵", "간식", "cafe", "coffee", "dessert"}},
	{"식비", []string{"식비", "식당", "음식", "배달", "외식", "점심", "저녁", "식료품", "food", "restaurant", "meal", "grocery"}},
	{"교통", []string{"교통", "버스", "지하철", "택시", "주유", "기차", "ktx", "taxi", "bus", "subway", "fuel"}},
	{"쇼핑", []string{"쇼핑", "의류", "옷", "마트", "편의점", "생활용품", "shopping", "mart"}},
	{"주거/통신", []string{"주거/통신", "주거", "월세", "관리비", "통신", "인터넷", "휴대폰", "전기", "가스", "수도", "rent", "phone"}},
	{"의료/건강", []string{"의료/건강", "병원", "약국", "건강", "의료", "헬스", "hospital", "pharmacy", "clinic"}},
	{"문화/여가", []string{"문화/여가", "문화", "여가", "영화", "공연", "여행", "게임", "취미", "movie", "travel"}},
	{"교육", []string{"교육", "학원", "도서", "책", "강의", "수강", "book", "course"}},
	{"경조사/선물", []string{"경조사/선물", "경조사", "선물", "축의금", "부의금", "gift"}},
	{"금융/보험", []string{"금융/보험", "금융", "보험", "이자", "대출", "수수료", "insurance", "fee"}},
}

// ClassifyCategory maps a raw category cell onto a canonical category.
// The category cell is checked against every cluster before the memo.
func ClassifyCategory(raw, memo string) string {
	for _, text := range []string{raw, memo} {
		if category, ok := matchCluster(text); ok {
			return category
		}
	}
	return domain.DefaultCategory
}

func matchCluster(text string) (string, bool) {
	text = canonical(text)
	if text == "" {
		return "", false
	}
	for _, c := range clusters {
		for _, keyword := range c.keywords {
			if strings.Contains(text, keyword) {
				return c.category, true
			}
		}
	}
	return "", false
}

// Categories lists the canonical categories, catch-all last.
func Categories() []string {
	out := make([]string, 0, len(clusters)+1)
	for _, c := range clusters {
		out = append(out, c.category)
	}
	return append(out, domain.DefaultCategory)
}
