package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"propline/internal/engine/auth"
	"propline/internal/repo"
)

// ValidationError is a rejected input. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// NotFoundError is an id that does not resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// PersistenceError is a backend failure after validation passed. The
// transaction was rolled back, so the caller may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// AuthorizationError is a privileged action attempted by a regular actor.
type AuthorizationError struct {
	Action  string
	ActorID string
}

func (e AuthorizationError) Error() string {
	return auth.ForbiddenError{Action: e.Action}.Error()
}

func (e AuthorizationError) Unwrap() error { return auth.ForbiddenError{Action: e.Action} }

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// classified reports whether err already carries a taxonomy type.
func classified(err error) bool {
	var (
		v ValidationError
		n NotFoundError
		p PersistenceError
		a AuthorizationError
	)
	return errors.As(err, &v) || errors.As(err, &n) || errors.As(err, &p) || errors.As(err, &a)
}

func persistErr(op string, err error) error {
	if err == nil || classified(err) {
		return err
	}
	return PersistenceError{Op: op, Err: err}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: kind, ID: id}
	}
	return persistErr("load "+kind, err)
}

func requireAdmin(a auth.Actor, action string) error {
	if err := a.RequireAdmin(action); err != nil {
		return AuthorizationError{Action: action, ActorID: a.ID}
	}
	return nil
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// check validates option structs by their validate tags.
func check(opts any) error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return invalid(fe.Field(), "is required")
		case "min", "max", "gte", "lte":
			return invalid(fe.Field(), "must satisfy %s=%s", fe.Tag(), fe.Param())
		default:
			return invalid(fe.Field(), "failed %s validation", fe.Tag())
		}
	}
	return invalid("", "%v", err)
}
