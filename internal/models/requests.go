package models

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// RegisterRequest is the decoded body of a registration call. Pointers keep
// "absent" distinguishable from "empty" until Validate resolves them.
type RegisterRequest struct {
	Username    *string `json:"username" validate:"required,notblank,max=64"`
	Password    *string `json:"password" validate:"required,notblank,max=72"`
	DisplayName *string `json:"displayName" validate:"required,notblank,max=128"`
}

// Registration is a RegisterRequest with every field resolved.
type Registration struct {
	Username    string
	Password    string
	DisplayName string
}

func (r RegisterRequest) Validate() (Registration, error) {
	if err := validate.Struct(r); err != nil {
		return Registration{}, err
	}
	return Registration{
		Username:    *r.Username,
		Password:    *r.Password,
		DisplayName: *r.DisplayName,
	}, nil
}

type DisplayNameRequest struct {
	DisplayName string `json:"displayName" validate:"notblank,max=128"`
}

func (r DisplayNameRequest) Validate() error {
	return validate.Struct(r)
}

type PasswordRequest struct {
	Password string `json:"password" validate:"notblank,max=72"`
}

func (r PasswordRequest) Validate() error {
	return validate.Struct(r)
}

type RenameRequest struct {
	Name string `json:"name" validate:"notblank,max=128"`
}

func (r RenameRequest) Validate() error {
	return validate.Struct(r)
}
