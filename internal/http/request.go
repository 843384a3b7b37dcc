package http

// Request decoding: JSON bodies checked with struct tags, and query
// parameters collected into a single INVALID_INPUT error.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"budget/internal/apperr"
	"budget/internal/core"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return err
		case errors.Is(err, io.EOF):
			return apperr.Invalid(apperr.FieldError{Field: "body", Reason: "request body is required"})
		default:
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) && typeErr.Field != "" {
				return apperr.Invalid(apperr.FieldError{Field: typeErr.Field, Reason: "must be a " + typeErr.Type.String()})
			}
			return apperr.Invalid(apperr.FieldError{Field: "body", Reason: "malformed JSON"})
		}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Reason: reason(fe)})
	}
	return apperr.Invalid(fields...)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "datetime":
		return "must be a date formatted " + core.DateLayout
	case "gtfield":
		return "must be after " + fe.Param()
	}
	return "is invalid (" + fe.Tag() + ")"
}

// queryReader parses query parameters and collects every failure.
type queryReader struct {
	q      url.Values
	fields []apperr.FieldError
}

func newQueryReader(r *http.Request) *queryReader {
	return &queryReader{q: r.URL.Query()}
}

func (p *queryReader) fail(name, why string) {
	p.fields = append(p.fields, apperr.FieldError{Field: name, Reason: why})
}

func (p *queryReader) str(name string) string {
	return strings.TrimSpace(p.q.Get(name))
}

// date parses a yyyy-MM-dd parameter.
func (p *queryReader) date(name string, required bool) time.Time {
	v := p.str(name)
	if v == "" {
		if required {
			p.fail(name, "is required")
		}
		return time.Time{}
	}
	t, err := core.ParseDate(v)
	if err != nil {
		p.fail(name, "must be a date formatted "+core.DateLayout)
	}
	return t
}

// timestamp parses an RFC 3339 parameter.
func (p *queryReader) timestamp(name string, required bool) *time.Time {
	v := p.str(name)
	if v == "" {
		if required {
			p.fail(name, "is required")
		}
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		p.fail(name, "must be an RFC 3339 timestamp")
		return nil
	}
	t = t.UTC()
	return &t
}

// positiveID parses an optional id; zero means absent.
func (p *queryReader) positiveID(name string) int64 {
	v := p.str(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		p.fail(name, "must be a positive number")
		return 0
	}
	return n
}

func (p *queryReader) intOr(name string, def, least int) int {
	return p.intIn(name, def, least, math.MaxInt)
}

// intIn reads an optional integer bounded to [least, most].
func (p *queryReader) intIn(name string, def, least, most int) int {
	v := p.str(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < least || n > most {
		if most == math.MaxInt {
			p.fail(name, fmt.Sprintf("must be a number >= %d", least))
		} else {
			p.fail(name, fmt.Sprintf("must be a number between %d and %d", least, most))
		}
		return def
	}
	return n
}

func (p *queryReader) amount(name string) *decimal.Decimal {
	v := p.str(name)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		p.fail(name, "must be a non-negative amount")
		return nil
	}
	return &d
}

func (p *queryReader) status(name string) core.TransactionStatus {
	v := p.str(name)
	if v == "" {
		return ""
	}
	s, err := core.ParseTransactionStatus(v)
	if err != nil {
		p.fail(name, err.Error())
	}
	return s
}

func (p *queryReader) txType(name string) core.TransactionType {
	v := p.str(name)
	if v == "" {
		return ""
	}
	t, err := core.ParseTransactionType(v)
	if err != nil {
		p.fail(name, err.Error())
	}
	return t
}

// ascending reads an ASC|DESC parameter, DESC by default.
func (p *queryReader) ascending(name string) bool {
	switch strings.ToUpper(p.str(name)) {
	case "":
		return false
	case "ASC":
		return true
	case "DESC":
		return false
	}
	p.fail(name, "must be ASC or DESC")
	return false
}

func (p *queryReader) err() error {
	if len(p.fields) == 0 {
		return nil
	}
	return apperr.Invalid(p.fields...)
}

func pathID(value, field string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, apperr.Invalid(apperr.FieldError{Field: field, Reason: "must be a positive number"})
	}
	return n, nil
}
