package handlers

import "strconv"

func itoa(n int) string { return strconv.Itoa(n) }

func parseInt64(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return int64(f), true
	}
	return 0, false
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
