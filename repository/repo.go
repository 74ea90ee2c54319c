package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"helmet-recorder/constant"
	"helmet-recorder/entities"
)

var (
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrStaleState means the row was not in any of the expected states, so
	// another owner got there first.
	ErrStaleState = errors.New("artifact state changed concurrently")
)

type ArtifactRepository interface {
	Migrate(ctx context.Context) error
	GetDB() *gorm.DB
	Create(ctx context.Context, artifact *entities.Artifact) error
	FindByID(ctx context.Context, id uuid.UUID) (*entities.Artifact, error)
	FindByFileName(ctx context.Context, name string) (*entities.Artifact, error)
	ListByState(ctx context.Context, states ...constant.ArtifactState) ([]*entities.Artifact, error)
	ListBySession(ctx context.Context, sessionKey string) ([]*entities.Artifact, error)
	List(ctx context.Context) ([]*entities.Artifact, error)
	Transition(ctx context.Context, id uuid.UUID, from []constant.ArtifactState, to constant.ArtifactState, updates map[string]any) error
	Save(ctx context.Context, artifact *entities.Artifact) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetLabel(ctx context.Context, id uuid.UUID, label string) error
	SetSessionLabel(ctx context.Context, sessionKey string, label string) (int64, error)
}

type repo struct {
	db *gorm.DB
}

func NewArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &repo{db: db}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&entities.Artifact{})
}

func (r *repo) Create(ctx context.Context, artifact *entities.Artifact) error {
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(artifact).Error
}

func (r *repo) FindByID(ctx context.Context, id uuid.UUID) (*entities.Artifact, error) {
	artifact := &entities.Artifact{}
	err := r.db.WithContext(ctx).First(artifact, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// FindByFileName matches the primary file under its current name.
func (r *repo) FindByFileName(ctx context.Context, name string) (*entities.Artifact, error) {
	artifact := &entities.Artifact{}
	err := r.db.WithContext(ctx).First(artifact, "file_name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (r *repo) ListByState(ctx context.Context, states ...constant.ArtifactState) ([]*entities.Artifact, error) {
	var artifacts []*entities.Artifact
	err := r.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("session_key ASC").Order("sequence ASC").
		Find(&artifacts).Error
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (r *repo) ListBySession(ctx context.Context, sessionKey string) ([]*entities.Artifact, error) {
	var artifacts []*entities.Artifact
	err := r.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		Order("sequence ASC").
		Find(&artifacts).Error
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (r *repo) List(ctx context.Context) ([]*entities.Artifact, error) {
	var artifacts []*entities.Artifact
	err := r.db.WithContext(ctx).
		Order("session_key DESC").Order("sequence ASC").
		Find(&artifacts).Error
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Transition moves an artifact to state `to` only if it is currently in one
// of `from`, applying updates in the same statement. Exactly one of several
// concurrent callers wins; the others get ErrStaleState.
func (r *repo) Transition(ctx context.Context, id uuid.UUID, from []constant.ArtifactState, to constant.ArtifactState, updates map[string]any) error {
	values := map[string]any{"state": to}
	for k, v := range updates {
		values[k] = v
	}

	res := r.db.WithContext(ctx).
		Model(&entities.Artifact{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *repo) Save(ctx context.Context, artifact *entities.Artifact) error {
	return r.db.WithContext(ctx).Save(artifact).Error
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&entities.Artifact{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrArtifactNotFound
	}
	return nil
}

// SetLabel touches only the label column, so it never races a transition.
func (r *repo) SetLabel(ctx context.Context, id uuid.UUID, label string) error {
	res := r.db.WithContext(ctx).
		Model(&entities.Artifact{}).
		Where("id = ?", id).
		Update("label", label)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrArtifactNotFound
	}
	return nil
}

func (r *repo) SetSessionLabel(ctx context.Context, sessionKey string, label string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entities.Artifact{}).
		Where("session_key = ? AND kind = ?", sessionKey, constant.ArtifactKindVideo).
		Update("label", label)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrArtifactNotFound
	}
	return res.RowsAffected, nil
}
