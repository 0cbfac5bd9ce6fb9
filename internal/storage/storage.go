// Package storage keeps task attachments on local disk and mints
// time-limited retrieval links for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret     = errors.New("file signing secret not configured")
	ErrInvalidToken = errors.New("invalid or expired file token")
	ErrBadPath      = errors.New("invalid blob path")
)

const tokenAudience = "propline-file"

type Local struct {
	Dir     string
	Secret  []byte
	BaseURL string
	Now     func() time.Time
}

func (s Local) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// sanitize keeps the base name and drops characters that are awkward on disk.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func (s Local) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if p == "" || clean == "/" {
		return "", ErrBadPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrBadPath
		}
	}
	return filepath.Join(s.Dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put stores the blob under the task and returns its stable path.
func (s Local) Put(ctx context.Context, taskID, filename string, r io.Reader) (string, error) {
	if strings.TrimSpace(taskID) == "" {
		return "", ErrBadPath
	}
	rel := path.Join("tasks", sanitize(taskID), fmt.Sprintf("%d-%s", s.now().UnixNano(), sanitize(filename)))
	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, readerWithContext(ctx, r)); err != nil {
		f.Close()
		os.Remove(full)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", err
	}
	return rel, nil
}

// Open returns the blob stored at p.
func (s Local) Open(p string) (*os.File, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes the blob; a missing blob is not an error.
func (s Local) Delete(_ context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SignedURL returns a link that resolves the blob until ttl elapses.
func (s Local) SignedURL(p string, ttl time.Duration) (string, error) {
	token, err := s.Sign(p, ttl)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(s.BaseURL, "/")
	return base + "/files/" + url.PathEscape(token), nil
}

// Sign returns a token naming the blob path.
func (s Local) Sign(p string, ttl time.Duration) (string, error) {
	if len(s.Secret) == 0 {
		return "", ErrNoSecret
	}
	if _, err := s.resolve(p); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   p,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// Verify checks a token and returns the blob path it grants.
func (s Local) Verify(token string) (string, error) {
	if len(s.Secret) == 0 {
		return "", ErrNoSecret
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if _, err := s.resolve(claims.Subject); err != nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return ctxReader{ctx: ctx, r: r}
}
