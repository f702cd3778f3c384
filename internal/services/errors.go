package services

import "errors"

var (
	// ErrInvalidFrequency is returned for billing frequencies the periodic
	// generator does not handle, including "term".
	ErrInvalidFrequency = errors.New("invalid billing frequency")
	// ErrInvalidPeriod is returned for a period year or month out of range.
	ErrInvalidPeriod        = errors.New("invalid billing period")
	ErrInvalidInvoiceNumber = errors.New("invalid invoice number")

	ErrStudentNotFound = errors.New("student not found")
	ErrCourseNotFound  = errors.New("course not found")
	ErrFeeNotFound     = errors.New("fee not found")
	ErrNoticeNotFound  = errors.New("notice not found")

	ErrTemplateNotFound = errors.New("notification template not found")
)
