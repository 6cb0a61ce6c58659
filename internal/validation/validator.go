package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/MattCarneiro/forms/internal/forms"
)

// New returns a configured validator with custom struct-level validation
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// Field names collapse under normalization ("Endereço" and
	// "endereco" are the same field), so uniqueness must be checked on
	// the normalized names, not the raw ones.
	v.RegisterStructValidation(uniqueNormalizedFields(func(r any) []string {
		return r.(CreateFormRequest).Fields
	}), CreateFormRequest{})
	v.RegisterStructValidation(uniqueNormalizedFields(func(r any) []string {
		return r.(ResetFormRequest).Fields
	}), ResetFormRequest{})

	return v
}

func uniqueNormalizedFields(fields func(any) []string) validatorv10.StructLevelFunc {
	return func(sl validatorv10.StructLevel) {
		raw := fields(sl.Current().Interface())
		seen := make(map[string]string, len(raw))
		for _, f := range raw {
			n := forms.NormalizeField(f)
			if n == "" {
				sl.ReportError(raw, "fields", "Fields", "nonempty_field", fmt.Sprintf("field %q normalizes to empty", f))
				continue
			}
			if prev, ok := seen[n]; ok {
				sl.ReportError(raw, "fields", "Fields", "unique_fields", fmt.Sprintf("%q duplicates %q", f, prev))
				continue
			}
			seen[n] = f
		}
	}
}
