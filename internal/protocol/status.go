package protocol

import (
	"fmt"
	"strconv"
)

// Status is the result class of a SAORI response.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoContent
	StatusBadRequest
	StatusInternalServerError
)

var statuses = []Status{StatusOK, StatusNoContent, StatusBadRequest, StatusInternalServerError}

// Code returns the numeric status code.
func (s Status) Code() int {
	switch s {
	case StatusOK:
		return 200
	case StatusNoContent:
		return 204
	case StatusBadRequest:
		return 400
	case StatusInternalServerError:
		return 500
	}
	return 0
}

// Text returns the reason phrase.
func (s Status) Text() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoContent:
		return "No Content"
	case StatusBadRequest:
		return "Bad Request"
	case StatusInternalServerError:
		return "Internal Server Error"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) String() string {
	return strconv.Itoa(s.Code()) + " " + s.Text()
}

// StatusFromCode maps a numeric code back to its Status.
func StatusFromCode(code int) (Status, bool) {
	for _, s := range statuses {
		if s.Code() == code {
			return s, true
		}
	}
	return 0, false
}

// sticky reports whether s is only left through an explicit SetStatus.
func (s Status) sticky() bool {
	return s == StatusBadRequest || s == StatusInternalServerError
}

// nextStatus is the transition applied after every change to the result
// or the values. Sticky states absorb; otherwise the status is OK exactly
// when there is something to send.
func nextStatus(current Status, result string, values []string) Status {
	if current.sticky() {
		return current
	}
	if result != "" {
		return StatusOK
	}
	for _, v := range values {
		if v != "" {
			return StatusOK
		}
	}
	return StatusNoContent
}
