package db

import (
	"fmt"

	"github.com/ai-friend-coming/chatledger/internal/models"

	"gorm.io/gorm"
)

// Migrate runs auto-migration for every persisted model.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.User{},
		&models.PrechargeRecord{},
		&models.BillingLog{},
		&models.PaymentOrder{},
		&models.RedeemCode{},
		&models.RedeemLog{},
		&models.FirstRechargeLog{},
		&models.SignInLog{},
		&models.InviteRebateLog{},
		&models.ModelPrice{},
		&models.Message{},
		&models.ChatSummaryState{},
		&models.SummaryChunk{},
		&models.Setting{},
	)
}
