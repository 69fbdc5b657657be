// Package sequence issues human-readable document numbers, one counter per
// (document type, exercice).
package sequence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceRecord is the counter row of one document type in one exercice.
type SequenceRecord struct {
	DocType   string    `gorm:"primaryKey;column:doc_type;type:varchar(16)"`
	Exercice  int       `gorm:"primaryKey;column:exercice;autoIncrement:false"`
	LastValue int64     `gorm:"column:last_value;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (SequenceRecord) TableName() string { return "document_sequences" }

// Issuer hands out numbers of the form PREFIX-EXERCICE-NNNNNN.
type Issuer struct {
	db *gorm.DB
}

// NewIssuer creates an Issuer over db.
func NewIssuer(db *gorm.DB) *Issuer {
	return &Issuer{db: db}
}

// AutoMigrate creates the document_sequences table.
func (i *Issuer) AutoMigrate() error {
	return i.db.AutoMigrate(&SequenceRecord{})
}

// Next increments the counter of (docType, exercice) inside tx and returns
// the formatted number. The increment commits or rolls back with the
// entity it numbers, so an aborted creation never burns a number.
func (i *Issuer) Next(ctx context.Context, tx *gorm.DB, docType string, exercice int) (string, error) {
	if tx == nil {
		tx = i.db.WithContext(ctx)
	}

	seed := SequenceRecord{DocType: docType, Exercice: exercice}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return "", fmt.Errorf("seed %s sequence for %d: %w", docType, exercice, err)
	}

	res := tx.Model(&SequenceRecord{}).
		Where("doc_type = ? AND exercice = ?", docType, exercice).
		UpdateColumn("last_value", gorm.Expr("last_value + 1"))
	if res.Error != nil {
		return "", fmt.Errorf("increment %s sequence for %d: %w", docType, exercice, res.Error)
	}

	var rec SequenceRecord
	if err := tx.Where("doc_type = ? AND exercice = ?", docType, exercice).First(&rec).Error; err != nil {
		return "", fmt.Errorf("read %s sequence for %d: %w", docType, exercice, err)
	}
	return Format(docType, exercice, rec.LastValue), nil
}

// Format renders a document number.
func Format(docType string, exercice int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", docType, exercice, n)
}
