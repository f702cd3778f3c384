package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// PaymentMethodCredit marks payments funded from a student's credit balance.
const PaymentMethodCredit = "credit"

// IPaymentReconciliationService settles new invoices from prepaid credit.
type IPaymentReconciliationService interface {
	ApplyCreditToNewInvoice(ctx context.Context, studentID, feeID primitive.ObjectID) (float64, error)
}

type paymentReconciliationService struct {
	students IStudentService
	fees     IFeeService
}

func NewPaymentReconciliationService(students IStudentService, fees IFeeService) IPaymentReconciliationService {
	return &paymentReconciliationService{students: students, fees: fees}
}

// ApplyCreditToNewInvoice moves as much of the student's credit balance as
// the invoice still needs onto it and returns the amount applied. The
// balance is decremented first under a guard so two concurrent
// reconciliations can never spend the same credit twice.
func (s *paymentReconciliationService) ApplyCreditToNewInvoice(ctx context.Context, studentID, feeID primitive.ObjectID) (float64, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return 0, err
	}
	if student.CreditBalance <= 0 {
		return 0, nil
	}

	fee, err := s.fees.FindByID(ctx, feeID)
	if err != nil {
		return 0, err
	}
	if fee.StudentID != studentID {
		return 0, fmt.Errorf("fee %s does not belong to student %s", feeID.Hex(), studentID.Hex())
	}
	outstanding := fee.Outstanding()
	if outstanding <= 0 {
		return 0, nil
	}

	applied := math.Round(math.Min(student.CreditBalance, outstanding)*100) / 100
	if applied <= 0 {
		return 0, nil
	}

	ok, err := s.students.AdjustCredit(ctx, studentID, -applied)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Printf("Credit of student %s changed during reconciliation of fee %s, skipping", studentID.Hex(), feeID.Hex())
		return 0, nil
	}

	_, err = s.fees.RecordPayment(ctx, feeID, models.FeePayment{
		Amount:    applied,
		Method:    PaymentMethodCredit,
		Reference: "credit-balance",
		PaidAt:    time.Now().UTC(),
	})
	if err != nil {
		if _, rerr := s.students.AdjustCredit(ctx, studentID, applied); rerr != nil {
			log.Printf("ERROR restoring %.2f credit to student %s after failed payment: %v", applied, studentID.Hex(), rerr)
		}
		return 0, fmt.Errorf("failed to record credit payment on fee %s: %w", feeID.Hex(), err)
	}

	log.Printf("Applied %.2f credit from student %s to fee %s", applied, studentID.Hex(), feeID.Hex())
	return applied, nil
}
