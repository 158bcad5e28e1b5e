package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/medpost/internal/models"
)

// creditColumns whitelists the balance column per capability. Column names
// cannot be bound as query parameters.
var creditColumns = map[models.Capability]string{
	models.CapabilityText:  "text_credits",
	models.CapabilityImage: "image_credits",
	models.CapabilityVideo: "video_credits",
}

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// ProfileDetails are the user-editable profile fields.
type ProfileDetails struct {
	FullName  string `json:"full_name"`
	Username  string `json:"username"`
	Specialty string `json:"specialty"`
	BrandName string `json:"brand_name"`
	Phone     string `json:"phone"`
	Instagram string `json:"instagram"`
	Website   string `json:"website"`
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	const query = `
SELECT id, COALESCE(email, ''), plan, role, text_credits, image_credits, video_credits,
       COALESCE(full_name, ''), COALESCE(username, ''), COALESCE(specialty, ''), COALESCE(brand_name, ''),
       COALESCE(phone, ''), COALESCE(instagram, ''), COALESCE(website, ''), created_at, updated_at
FROM profiles WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var (
		p          models.Profile
		plan, role string
	)
	if err := row.Scan(&p.ID, &p.Email, &plan, &role, &p.Credits.Text, &p.Credits.Image, &p.Credits.Video,
		&p.FullName, &p.Username, &p.Specialty, &p.BrandName, &p.Phone, &p.Instagram, &p.Website, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	var err error
	if p.Plan, err = models.ParsePlan(plan); err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	if p.Role, err = models.ParseRole(role); err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return &p, nil
}

func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	const query = `
INSERT INTO profiles (id, email, plan, role, text_credits, image_credits, video_credits)
VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Email, p.Plan, p.Role, p.Credits.Text, p.Credits.Image, p.Credits.Video); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// Ensure returns the stored profile, creating a basic one with
// defaultCredits when none exists. The bool reports creation.
func (r *ProfileRepository) Ensure(ctx context.Context, id, email string, defaultCredits models.Credits) (*models.Profile, bool, error) {
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if p != nil {
		return p, false, nil
	}
	p = &models.Profile{
		ID:      id,
		Email:   email,
		Plan:    models.PlanBasic,
		Role:    models.RoleUser,
		Credits: defaultCredits,
	}
	if err := r.Create(ctx, p); err != nil {
		// a concurrent request may have provisioned the same user
		if existing, findErr := r.FindByID(ctx, id); findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	created, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if created == nil {
		return p, true, nil
	}
	return created, true, nil
}

func (r *ProfileRepository) UpdateDetails(ctx context.Context, id string, d ProfileDetails) error {
	const query = `
UPDATE profiles SET full_name = NULLIF(?, ''), username = NULLIF(?, ''), specialty = NULLIF(?, ''),
       brand_name = NULLIF(?, ''), phone = NULLIF(?, ''), instagram = NULLIF(?, ''), website = NULLIF(?, ''),
       updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, d.FullName, d.Username, d.Specialty, d.BrandName, d.Phone, d.Instagram, d.Website, id); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// Balance returns 0 for an unknown user.
func (r *ProfileRepository) Balance(ctx context.Context, userID string, capability models.Capability) (int, error) {
	column, ok := creditColumns[capability]
	if !ok {
		return 0, fmt.Errorf("unknown capability %q", capability)
	}
	query := `SELECT ` + column + ` FROM profiles WHERE id = ?`
	var balance int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", column, err)
	}
	return balance, nil
}

// Decrement subtracts amount only while the stored balance covers it, so
// concurrent debits can never drive a balance negative.
func (r *ProfileRepository) Decrement(ctx context.Context, userID string, capability models.Capability, amount int) (bool, error) {
	column, ok := creditColumns[capability]
	if !ok {
		return false, fmt.Errorf("unknown capability %q", capability)
	}
	query := `
UPDATE profiles SET ` + column + ` = ` + column + ` - ?, updated_at = NOW()
WHERE id = ? AND ` + column + ` >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		return false, fmt.Errorf("decrement %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", column, err)
	}
	return affected > 0, nil
}
