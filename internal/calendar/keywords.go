package calendar

import "strings"

// DefaultClosedKeywords are the vendor phrases that mark a window as closed.
// Matching is by substring, so "节" also catches every named festival.
var DefaultClosedKeywords = []string{
	"休市", "收盘", "停市", "未开盘", "假期", "休假", "竞价", "节", "日", "提前", "延迟", "盘前",
}

// ClosedMatcher classifies rule descriptions.
type ClosedMatcher struct {
	keywords []string
}

func NewClosedMatcher(keywords []string) *ClosedMatcher {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	return &ClosedMatcher{keywords: kw}
}

// IsClosed reports whether desc contains any closed keyword.
func (m *ClosedMatcher) IsClosed(desc string) bool {
	for _, k := range m.keywords {
		if strings.Contains(desc, k) {
			return true
		}
	}
	return false
}
