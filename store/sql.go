package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gateflow/gateflow/flow"
)

// definitionRecord is the definitions table. The full definition travels as
// a JSON payload; indexed columns exist for lookups only.
type definitionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;index"`
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (definitionRecord) TableName() string { return "flow_definitions" }

type instanceRecord struct {
	ID           string `gorm:"primaryKey;size:64"`
	DefinitionID string `gorm:"size:64;index"`
	Status       string `gorm:"size:32;index"`
	Payload      []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (instanceRecord) TableName() string { return "flow_instances" }

type checkpointRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	InstanceID     string `gorm:"size:64;index:idx_ckpt_instance"`
	ExecutionIndex int    `gorm:"index:idx_ckpt_instance"`
	Payload        []byte
	CreatedAt      time.Time
}

func (checkpointRecord) TableName() string { return "flow_checkpoints" }

// SQLStore is a GORM-backed implementation of all three store interfaces.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens the configured database and migrates the schema.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewSQLStoreWithDB(db)
}

// NewSQLStoreWithDB wraps an existing GORM handle (used by tests).
func NewSQLStoreWithDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&definitionRecord{}, &instanceRecord{}, &checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDefinition implements DefinitionStore.
func (s *SQLStore) SaveDefinition(ctx context.Context, def *flow.FlowDefinition) error {
	if def == nil || def.ID == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	rec := definitionRecord{
		ID:        def.ID,
		Name:      def.Name,
		Payload:   payload,
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// GetDefinition implements DefinitionStore.
func (s *SQLStore) GetDefinition(ctx context.Context, id string) (*flow.FlowDefinition, error) {
	var rec definitionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var def flow.FlowDefinition
	if err := json.Unmarshal(rec.Payload, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition %s: %w", id, err)
	}
	return &def, nil
}

// ListDefinitions implements DefinitionStore.
func (s *SQLStore) ListDefinitions(ctx context.Context) ([]*flow.FlowDefinition, error) {
	var recs []definitionRecord
	if err := s.db.WithContext(ctx).Order("name").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*flow.FlowDefinition, 0, len(recs))
	for _, rec := range recs {
		var def flow.FlowDefinition
		if err := json.Unmarshal(rec.Payload, &def); err != nil {
			return nil, fmt.Errorf("unmarshal definition %s: %w", rec.ID, err)
		}
		out = append(out, &def)
	}
	return out, nil
}

// SaveInstance implements InstanceStore.
func (s *SQLStore) SaveInstance(ctx context.Context, inst *flow.FlowInstance) error {
	if inst == nil || inst.ID == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	rec := instanceRecord{
		ID:           inst.ID,
		DefinitionID: inst.DefinitionID,
		Status:       string(inst.Status),
		Payload:      payload,
		CreatedAt:    inst.CreatedAt,
		UpdatedAt:    inst.UpdatedAt,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// GetInstance implements InstanceStore.
func (s *SQLStore) GetInstance(ctx context.Context, id string) (*flow.FlowInstance, error) {
	var rec instanceRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var inst flow.FlowInstance
	if err := json.Unmarshal(rec.Payload, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", id, err)
	}
	return &inst, nil
}

// ListInstances implements InstanceStore.
func (s *SQLStore) ListInstances(ctx context.Context, definitionID string) ([]*flow.FlowInstance, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if definitionID != "" {
		q = q.Where("definition_id = ?", definitionID)
	}
	var recs []instanceRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*flow.FlowInstance, 0, len(recs))
	for _, rec := range recs {
		var inst flow.FlowInstance
		if err := json.Unmarshal(rec.Payload, &inst); err != nil {
			return nil, fmt.Errorf("unmarshal instance %s: %w", rec.ID, err)
		}
		out = append(out, &inst)
	}
	return out, nil
}

// SaveCheckpoint implements CheckpointStore.
func (s *SQLStore) SaveCheckpoint(ctx context.Context, cp *flow.Checkpoint) error {
	if cp == nil || cp.InstanceID == "" {
		return ErrInvalidInput
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	rec := checkpointRecord{
		ID:             cp.ID,
		InstanceID:     cp.InstanceID,
		ExecutionIndex: cp.ExecutionIndex,
		Payload:        payload,
		CreatedAt:      cp.CreatedAt,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// GetCheckpoint implements CheckpointStore.
func (s *SQLStore) GetCheckpoint(ctx context.Context, id string) (*flow.Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCheckpoint(rec)
}

// GetCheckpointAt implements CheckpointStore.
func (s *SQLStore) GetCheckpointAt(ctx context.Context, instanceID string, executionIndex int) (*flow.Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).
		Where("instance_id = ? AND execution_index = ?", instanceID, executionIndex).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCheckpoint(rec)
}

// ListCheckpoints implements CheckpointStore.
func (s *SQLStore) ListCheckpoints(ctx context.Context, instanceID string) ([]*flow.Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("execution_index").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*flow.Checkpoint, 0, len(recs))
	for _, rec := range recs {
		cp, err := decodeCheckpoint(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func decodeCheckpoint(rec checkpointRecord) (*flow.Checkpoint, error) {
	var cp flow.Checkpoint
	if err := json.Unmarshal(rec.Payload, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", rec.ID, err)
	}
	return &cp, nil
}
