package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role of a platform user.
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

// DateTime is a timestamp as the main API sends it: a local date-time
// without zone, RFC 3339, or a bare date.
type DateTime struct {
	time.Time
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02",
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DateTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("upstream: bad date-time %q", s)
}

// MarshalJSON implements json.Marshaler.
func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format("2006-01-02T15:04:05"))
}

// Date formats the value as a calendar date, empty when unset.
func (d DateTime) Date() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// Profile is the part shared by patients and doctors.
type Profile struct {
	ID        int64    `json:"id" validate:"gt=0"`
	Email     string   `json:"email" validate:"required,email"`
	FirstName string   `json:"firstName" validate:"required"`
	LastName  string   `json:"lastName"`
	Dob       DateTime `json:"dob"`
	CreatedAt DateTime `json:"createdAt"`
	Role      Role     `json:"role" validate:"required,oneof=PATIENT DOCTOR ADMIN"`
}

// FullName joins first and last name.
func (p Profile) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// DoctorDto is a doctor as returned by /api/doctors.
type DoctorDto struct {
	Profile
	AvgRating            *float64 `json:"avgRating" validate:"omitempty,gte=0,lte=5"`
	NoAppointmentsFailed *int     `json:"noAppointmentsFailed" validate:"omitempty,gte=0"`
}

// PatientDto is a patient as returned by /api/patients.
type PatientDto struct {
	Profile
}

// Question of a questionnaire section.
type Question struct {
	ID   int64  `json:"id" validate:"gt=0"`
	Text string `json:"text" validate:"required"`
	Type string `json:"type"`
}

// Section of the medical questionnaire.
type Section struct {
	ID        int64      `json:"id" validate:"gt=0"`
	Title     string     `json:"title" validate:"required"`
	Questions []Question `json:"questions" validate:"dive"`
}

// User is the identity returned with a token grant.
type User struct {
	ID        int64  `json:"id" validate:"gt=0"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      Role   `json:"role" validate:"required,oneof=PATIENT DOCTOR ADMIN"`
}

// Tokens is a token pair.
type Tokens struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn" validate:"gte=0"`
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	Tokens
	User User `json:"user"`
}

// LoginRequest is the body of /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email" validate:"required,email"`
	Password string `json:"password" form:"password" binding:"required" validate:"required"`
}

// SignupRequest is the body of /api/auth/signup.
type SignupRequest struct {
	Email     string `json:"email" form:"email" binding:"required,email" validate:"required,email"`
	Password  string `json:"password" form:"password" binding:"required,min=8" validate:"required,min=8"`
	FirstName string `json:"firstName" form:"firstName" binding:"required" validate:"required"`
	LastName  string `json:"lastName" form:"lastName"`
	Role      Role   `json:"role" form:"role" binding:"required,oneof=PATIENT DOCTOR" validate:"required,oneof=PATIENT DOCTOR"`
	Dob       string `json:"dob,omitempty" form:"dob" binding:"omitempty,datetime=2006-01-02" validate:"omitempty,datetime=2006-01-02"`
}

// ProfileUpdate is the body of PATCH /api/{patients|doctors}/me.
// A nil or empty email leaves the address unchanged.
type ProfileUpdate struct {
	FirstName string  `json:"firstName" form:"firstName" binding:"required" validate:"required"`
	LastName  string  `json:"lastName" form:"lastName"`
	Email     *string `json:"email,omitempty" form:"email" binding:"nullemail" validate:"nullemail"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// errorEnvelope is the failure body of the main API.
type errorEnvelope struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}
