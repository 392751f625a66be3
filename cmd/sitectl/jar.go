package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// fileJar is an in-memory cookie jar whose cookies for one site are saved to disk,
// standing in for the browser's cookie store between runs
type fileJar struct {
	mu    sync.Mutex
	inner *cookiejar.Jar
	site  *url.URL
	path  string
}

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func openFileJar(path, baseURL string) (*fileJar, error) {
	site, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	j := &fileJar{inner: inner, site: site, path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var saved []savedCookie
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(saved))
	for _, c := range saved {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	inner.SetCookies(site, cookies)
	return j, nil
}

func (j *fileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
}

func (j *fileJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Clear drops every cookie
func (j *fileJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner, _ = cookiejar.New(nil)
}

// Save writes the site's current cookies to disk
func (j *fileJar) Save() error {
	j.mu.Lock()
	cookies := j.inner.Cookies(j.site)
	j.mu.Unlock()

	saved := make([]savedCookie, 0, len(cookies))
	for _, c := range cookies {
		saved = append(saved, savedCookie{Name: c.Name, Value: c.Value})
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(j.path, data, 0o600)
}
