package ids

import (
	"github.com/go-playground/validator/v10"
	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
)

// validate is a single package-level *validator.Validate, the teacher's
// pattern for any package-scoped third-party client: built once, reused
// by every call instead of reconstructed per-validation.
var validate = validator.New()

// ValidateStruct runs struct-tag validation over v (a Job, ResourceQuota,
// ResourcePool or WorkerTemplate — anything carrying `validate:"..."`
// tags) and translates the first failing field into an
// apierrors.ValidationError, so callers get the same error kind whether
// the blank-check in Validate or a struct-tag rule caught the problem.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return apierrors.NewValidation("", err.Error())
	}

	fe := fieldErrs[0]
	return apierrors.NewValidation(fe.Namespace(), reasonForTag(fe))
}

func reasonForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be blank"
	case "gte":
		return "must be >= " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "hostname_rfc1123":
		return "must be a valid DNS-1123 name"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
