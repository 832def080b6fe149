package source

import (
	"context"
	"time"
)

func init() {
	retryDelay = time.Millisecond
}

type stubLoader struct {
	page string
	err  error
	urls []string
}

func (s *stubLoader) Load(_ context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.page), nil
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
