package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

func setupReconciliation(credit float64, fee models.Fee) (*memStudents, *memFees, IPaymentReconciliationService, *models.Fee) {
	student := &models.Student{Base: models.NewBase(time.Now()), CreditBalance: credit, AcademicStatus: models.AcademicStatusActive}
	students := &memStudents{students: []*models.Student{student}}
	fees := &memFees{}
	fee.StudentID = student.ID
	fee.Status = models.FeeStatusPending
	fees.insertExisting(&fee)
	return students, fees, NewPaymentReconciliationService(students, fees), &fee
}

func TestApplyCreditToNewInvoice_PartialCredit(t *testing.T) {
	students, fees, svc, fee := setupReconciliation(300, models.Fee{TotalAmountDue: 1000})

	applied, err := svc.ApplyCreditToNewInvoice(context.Background(), fee.StudentID, fee.ID)
	require.NoError(t, err)
	assert.Equal(t, 300.0, applied)
	assert.Equal(t, 0.0, students.credit(fee.StudentID))

	stored, err := fees.FindByID(context.Background(), fee.ID)
	require.NoError(t, err)
	assert.Equal(t, 300.0, stored.AmountPaid)
	assert.Equal(t, models.FeeStatusPartiallyPaid, stored.Status)
	require.Len(t, stored.Payments, 1)
	assert.Equal(t, PaymentMethodCredit, stored.Payments[0].Method)
}

func TestApplyCreditToNewInvoice_CreditCoversInvoice(t *testing.T) {
	students, fees, svc, fee := setupReconciliation(1500, models.Fee{TotalAmountDue: 1000, ScholarshipAmount: 200})

	applied, err := svc.ApplyCreditToNewInvoice(context.Background(), fee.StudentID, fee.ID)
	require.NoError(t, err)
	assert.Equal(t, 800.0, applied, "only the outstanding amount after scholarship is taken")
	assert.Equal(t, 700.0, students.credit(fee.StudentID))

	stored, _ := fees.FindByID(context.Background(), fee.ID)
	assert.Equal(t, models.FeeStatusPaid, stored.Status)
}

func TestApplyCreditToNewInvoice_NoCredit(t *testing.T) {
	_, fees, svc, fee := setupReconciliation(0, models.Fee{TotalAmountDue: 1000})

	applied, err := svc.ApplyCreditToNewInvoice(context.Background(), fee.StudentID, fee.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, applied)
	stored, _ := fees.FindByID(context.Background(), fee.ID)
	assert.Empty(t, stored.Payments)
}

func TestApplyCreditToNewInvoice_PaymentFailureRestoresCredit(t *testing.T) {
	students, fees, svc, fee := setupReconciliation(400, models.Fee{TotalAmountDue: 1000})
	fees.paymentErr = errors.New("write conflict")

	applied, err := svc.ApplyCreditToNewInvoice(context.Background(), fee.StudentID, fee.ID)
	assert.ErrorContains(t, err, "write conflict")
	assert.Equal(t, 0.0, applied)
	assert.Equal(t, 400.0, students.credit(fee.StudentID))
}

func TestApplyCreditToNewInvoice_ForeignFee(t *testing.T) {
	_, _, svc, fee := setupReconciliation(400, models.Fee{TotalAmountDue: 1000})

	_, err := svc.ApplyCreditToNewInvoice(context.Background(), fee.StudentID, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrFeeNotFound)

	_, err = svc.ApplyCreditToNewInvoice(context.Background(), primitive.NewObjectID(), fee.ID)
	assert.ErrorIs(t, err, ErrStudentNotFound)
}
