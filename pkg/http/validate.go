package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their json name so errors match the payload.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// BindRequest binds the body and query into req, applies `default` tags and
// validates it. A nil result means req is ready to use.
func BindRequest(c echo.Context, req interface{}) []FieldError {
	if err := c.Bind(req); err != nil {
		return fieldErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return fieldErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return fieldErrors(err)
	}
	return nil
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, FieldError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: describe(fe),
			})
		}
		return out
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []FieldError{{Code: "ERR_MALFORMED", Message: fmt.Sprint(he.Message)}}
	}
	return []FieldError{{Code: "ERR_MALFORMED", Message: err.Error()}}
}

func describe(fe validator.FieldError) string {
	f, p := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f, strings.ReplaceAll(p, " ", ", "))
	case "max":
		return fmt.Sprintf("%s must be at most %s", f, p)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", f, p)
	case "lte":
		return fmt.Sprintf("%s must be <= %s", f, p)
	default:
		return fmt.Sprintf("%s failed %s", f, fe.Tag())
	}
}
