// Package db implements the relational persistence layer: Orders,
// Positions, and EncryptedKeys via GORM/MySQL, grounded directly on
// ChoSanghyuk-blackholedex/internal/db/transaction_recorder.go's
// NewMySQLRecorder/AutoMigrate/bigIntToString-style numeric-as-string
// column pattern (adapted here for the uint64 lamport/basis-point
// quantities this domain works with, rather than *big.Int).
package db

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradingbotd/core/internal/monitor"
	"github.com/tradingbotd/core/internal/vault"
)

// EncryptedKeyRecord is the GORM model backing vault.Repository. Binary
// fields are stored as raw bytes in VARBINARY/BINARY columns; salt/nonce/
// tag are fixed-length arrays on vault.EncryptedKey and are converted to
// and from byte slices when a record is built or read.
type EncryptedKeyRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	UserRef      string `gorm:"index:idx_user_wallet,unique;not null"`
	WalletID     string `gorm:"index:idx_user_wallet,unique;not null"`
	Address      string `gorm:"type:varchar(64);not null"`
	Ciphertext   []byte `gorm:"type:varbinary(256);not null"`
	Salt         []byte `gorm:"type:binary(32);not null"`
	Nonce        []byte `gorm:"type:binary(12);not null"`
	AuthTag      []byte `gorm:"type:binary(16);not null"`
	IsPrimary    bool   `gorm:"not null"`
	IsActive     bool   `gorm:"not null;default:true"`
	TimesUsed    uint64 `gorm:"not null;default:0"`
	LastUsedAt   time.Time
	ArgonTime    uint32
	ArgonMemory  uint32
	ArgonThreads uint8
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (EncryptedKeyRecord) TableName() string { return "encrypted_keys" }

// OrderRecord mirrors orderstate.Order for durable storage; lamport
// quantities are stored as strings, matching bigIntToString's rationale
// (the values can exceed what a naive numeric column type guarantees
// across MySQL versions/collations without explicit width control).
type OrderRecord struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	UserRef     string `gorm:"index;not null"`
	InputMint   string `gorm:"type:varchar(64);not null"`
	OutputMint  string `gorm:"type:varchar(64);not null"`
	InputAmount string `gorm:"type:varchar(20);not null"` // uint64 as string
	SlippageBps int
	PriorityFee int
	State       string `gorm:"type:varchar(16);index;not null"`
	FailedCode  string `gorm:"type:varchar(32)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (OrderRecord) TableName() string { return "orders" }

// PositionRecord mirrors the spec's Position entity.
type PositionRecord struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	OrderRef        string `gorm:"index;not null"`
	Mint            string `gorm:"type:varchar(64);not null"`
	QuoteMint       string `gorm:"type:varchar(64);not null"`
	EntrySignature  string `gorm:"type:varchar(128)"`
	EntryInput      string `gorm:"type:varchar(20)"`
	EntryOutput     string `gorm:"type:varchar(20)"`
	CurrentBalance  string `gorm:"type:varchar(20)"`
	TakeProfitPct   *float64
	StopLossPct     *float64
	Trailing        bool
	HighestPrice    float64
	Status          string `gorm:"type:varchar(20);index;not null"`
	ExitSignature   string `gorm:"type:varchar(128)"`
	RealizedPnL     float64
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (PositionRecord) TableName() string { return "positions" }

// Store wraps a GORM connection to MySQL, matching MySQLRecorder's
// construction/migration pattern.
type Store struct {
	db *gorm.DB
}

// NewMySQLStore connects to dsn and auto-migrates the schema, exactly
// the sequence NewMySQLRecorder follows.
func NewMySQLStore(dsn string) (*Store, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to connect to MySQL: %w", err)
	}
	if err := gdb.AutoMigrate(&EncryptedKeyRecord{}, &OrderRecord{}, &PositionRecord{}); err != nil {
		return nil, fmt.Errorf("db: failed to migrate schema: %w", err)
	}
	return &Store{db: gdb}, nil
}

// NewStoreWithDB wraps an already-open GORM connection, migrating the
// schema onto it. Used by tests against sqlite or an existing pool.
func NewStoreWithDB(gdb *gorm.DB) (*Store, error) {
	if err := gdb.AutoMigrate(&EncryptedKeyRecord{}, &OrderRecord{}, &PositionRecord{}); err != nil {
		return nil, fmt.Errorf("db: failed to migrate schema: %w", err)
	}
	return &Store{db: gdb}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("db: failed to get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func uint64ToString(v uint64) string { return strconv.FormatUint(v, 10) }

func stringToUint64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// --- vault.Repository -------------------------------------------------

func toRecord(ek *vault.EncryptedKey) EncryptedKeyRecord {
	return EncryptedKeyRecord{
		UserRef:      ek.UserRef,
		WalletID:     ek.WalletID,
		Address:      ek.Address,
		Ciphertext:   ek.Ciphertext,
		Salt:         ek.Salt[:],
		Nonce:        ek.Nonce[:],
		AuthTag:      ek.AuthTag[:],
		IsPrimary:    ek.IsPrimary,
		IsActive:     ek.IsActive,
		TimesUsed:    ek.TimesUsed,
		LastUsedAt:   ek.LastUsedAt,
		ArgonTime:    ek.ArgonTime,
		ArgonMemory:  ek.ArgonMemory,
		ArgonThreads: ek.ArgonThreads,
		CreatedAt:    ek.CreatedAt,
	}
}

func fromRecord(r EncryptedKeyRecord) *vault.EncryptedKey {
	ek := &vault.EncryptedKey{
		UserRef:      r.UserRef,
		WalletID:     r.WalletID,
		Address:      r.Address,
		Ciphertext:   r.Ciphertext,
		IsPrimary:    r.IsPrimary,
		IsActive:     r.IsActive,
		TimesUsed:    r.TimesUsed,
		LastUsedAt:   r.LastUsedAt,
		ArgonTime:    r.ArgonTime,
		ArgonMemory:  r.ArgonMemory,
		ArgonThreads: r.ArgonThreads,
		CreatedAt:    r.CreatedAt,
	}
	copy(ek.Salt[:], r.Salt)
	copy(ek.Nonce[:], r.Nonce)
	copy(ek.AuthTag[:], r.AuthTag)
	return ek
}

// Save upserts an EncryptedKey, clearing any other primary flag for the
// same user inside one transaction, matching MemRepository's invariant.
func (s *Store) Save(ek *vault.EncryptedKey) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if ek.IsPrimary {
			if err := tx.Model(&EncryptedKeyRecord{}).
				Where("user_ref = ?", ek.UserRef).
				Update("is_primary", false).Error; err != nil {
				return err
			}
		}
		rec := toRecord(ek)
		return tx.Where("user_ref = ? AND wallet_id = ?", ek.UserRef, ek.WalletID).
			Assign(rec).FirstOrCreate(&EncryptedKeyRecord{}).Error
	})
}

func (s *Store) Get(userRef, walletID string) (*vault.EncryptedKey, error) {
	var rec EncryptedKeyRecord
	if err := s.db.Where("user_ref = ? AND wallet_id = ?", userRef, walletID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("db: wallet %s/%s not found: %w", userRef, walletID, err)
	}
	return fromRecord(rec), nil
}

func (s *Store) Primary(userRef string) (*vault.EncryptedKey, error) {
	var rec EncryptedKeyRecord
	if err := s.db.Where("user_ref = ? AND is_primary = ?", userRef, true).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("db: no primary wallet for user %s: %w", userRef, err)
	}
	return fromRecord(rec), nil
}

func (s *Store) SetPrimary(userRef, walletID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&EncryptedKeyRecord{}).
			Where("user_ref = ?", userRef).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return tx.Model(&EncryptedKeyRecord{}).
			Where("user_ref = ? AND wallet_id = ?", userRef, walletID).
			Update("is_primary", true).Error
	})
}

func (s *Store) List(userRef string) ([]*vault.EncryptedKey, error) {
	var recs []EncryptedKeyRecord
	if err := s.db.Where("user_ref = ?", userRef).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*vault.EncryptedKey, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// --- monitor.Store ------------------------------------------------------

// Open persists a newly-opened Position, matching NewMySQLRecorder's
// insert-then-migrate discipline: the row lands with status OPEN so a
// subsequent Positions() call (on this process or after a restart) picks
// it back up for PositionMonitor/RugMonitor to watch.
func (s *Store) Open(pos *monitor.Position) error {
	rec := PositionRecord{
		ID:             uuid.NewString(),
		OrderRef:       pos.OrderRef,
		Mint:           pos.Mint,
		QuoteMint:      pos.QuoteMint,
		EntrySignature: pos.EntrySignature,
		EntryInput:     uint64ToString(pos.EntryInputAmount),
		EntryOutput:    uint64ToString(pos.EntryAmount),
		CurrentBalance: uint64ToString(pos.EntryAmount),
		TakeProfitPct:  pos.TakeProfitPct,
		StopLossPct:    pos.StopLossPct,
		Trailing:       pos.TrailingStopPct != nil,
		Status:         "OPEN",
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("db: failed to open position for order %s: %w", pos.OrderRef, err)
	}
	return nil
}

func (s *Store) Positions(userRef string) []*monitor.Position {
	var recs []PositionRecord
	q := s.db.Where("status = ?", "OPEN")
	if userRef != "" {
		q = q.Where("order_ref IN (SELECT id FROM orders WHERE user_ref = ?)", userRef)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil
	}
	out := make([]*monitor.Position, 0, len(recs))
	for _, r := range recs {
		out = append(out, &monitor.Position{
			Mint:             r.Mint,
			QuoteMint:        r.QuoteMint,
			OrderRef:         r.OrderRef,
			EntrySignature:   r.EntrySignature,
			EntryInputAmount: stringToUint64(r.EntryInput),
			EntryAmount:      stringToUint64(r.EntryOutput),
			EntryTime:        r.CreatedAt,
			TakeProfitPct:    r.TakeProfitPct,
			StopLossPct:      r.StopLossPct,
		})
	}
	return out
}

func (s *Store) Remove(mint string) {
	s.db.Model(&PositionRecord{}).Where("mint = ?", mint).Update("status", "CLOSED_MANUAL")
}
