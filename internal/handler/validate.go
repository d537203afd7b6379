package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/tipper/internal/grading"
	appI18n "github.com/pavelanni/tipper/internal/i18n"
)

var (
	validate = newValidator()
	// trans renders field errors; they are English whatever the UI language.
	trans ut.Translator
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("grade", func(fl validator.FieldLevel) bool {
		return grading.ValidGrade(fl.Field().Float())
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
	_ = v.RegisterTranslation("grade", trans,
		func(ut ut.Translator) error {
			return ut.Add("grade", "{0} must be between 1 and 6 in steps of 0.25", true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T("grade", fe.Field())
			return t
		},
	)
	return v
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// fieldErrors maps each failed field to a readable message. It returns nil
// for errors that are not validation errors.
func fieldErrors(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// bind decodes the JSON body into dst and validates it. On failure the 400
// response has been written and bind returns false.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return false
	}
	if err := validate.StructCtx(r.Context(), dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  appI18n.T(r.Context(), "ErrBadRequest"),
			Fields: fieldErrors(err),
		})
		return false
	}
	return true
}

// bindGrades decodes a bare student ID to grade map.
func bindGrades(w http.ResponseWriter, r *http.Request) (map[int64]float64, bool) {
	var grades map[int64]float64
	if err := decodeJSON(w, r, &grades); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return nil, false
	}
	if err := validate.VarCtx(r.Context(), grades, "dive,grade"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  appI18n.T(r.Context(), "ErrGradeOutOfRange"),
			Fields: fieldErrors(err),
		})
		return nil, false
	}
	return grades, true
}
