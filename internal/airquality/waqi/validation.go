package waqi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidFeed is returned when a feed payload fails validation.
var ErrInvalidFeed = errors.New("invalid feed payload")

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidFeed, strings.Join(e.Problems, "; "))
}

// Unwrap lets errors.Is match ErrInvalidFeed.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidFeed
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json paths (city.geo[1]) instead of Go field names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "aqi", validAQI)
	mustRegister(v, "integer", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return f == math.Trunc(f)
	})
	v.RegisterStructValidation(validateSigns, Feed{})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// validAQI accepts an integer index in 0..500. Stations without an index
// send "-" or omit it, which is not an error.
func validAQI(fl validator.FieldLevel) bool {
	raw, _ := fl.Field().Interface().(json.RawMessage)

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || n == "" {
		return true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return false
	}
	return f >= 0 && f <= 500
}

// validateSigns rejects negative iaqi values except for signed pollutants.
func validateSigns(sl validator.StructLevel) {
	feed := sl.Current().Interface().(Feed)

	names := make([]string, 0, len(feed.IAQI))
	for name := range feed.IAQI {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := feed.IAQI[name].V
		if value < 0 && !slices.Contains(signedPollutants, name) {
			sl.ReportError(value, "iaqi["+name+"].v", "V", "gte", "0")
		}
	}
}

// Validate checks the data section of a feed response.
func Validate(data []byte) error {
	_, err := decodeFeed(data)
	return err
}

// decodeFeed decodes and validates the data section of a feed response.
func decodeFeed(data []byte) (*Feed, error) {
	var feed Feed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, &ValidationError{Problems: []string{"data: " + err.Error()}}
	}

	if err := validate.Struct(feed); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("validate feed: %w", err)
		}
		problems := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
		return nil, &ValidationError{Problems: problems}
	}

	return &feed, nil
}

func describe(fe validator.FieldError) string {
	// Namespaces start with the struct name: Feed.city.geo[1].
	_, path, _ := strings.Cut(fe.Namespace(), ".")

	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Sprintf("%s: %v fails %s", path, fe.Value(), rule)
}
