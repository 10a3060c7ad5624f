package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/repositories"
)

// SeedUser is one entry of the staff seed file.
type SeedUser struct {
	Email          string `yaml:"email"`
	Name           string `yaml:"name"`
	CanAcceptSuits bool   `yaml:"can_accept_suits"`
	IsSuperadmin   bool   `yaml:"is_superadmin"`
}

type seedFile struct {
	Users []SeedUser `yaml:"users"`
}

func parseSeedFile(r io.Reader) ([]SeedUser, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	for i, u := range f.Users {
		if strings.TrimSpace(u.Email) == "" {
			return nil, fmt.Errorf("users[%d]: email is required", i)
		}
	}
	return f.Users, nil
}

// seedAdmins creates missing users, activates them and grants the admin
// role. Capability flags are set exactly as listed. Returns the number of
// users created.
func seedAdmins(ctx context.Context, db *database.DB, users *repositories.UserRepository, seeds []SeedUser) (int, error) {
	created := 0
	err := database.InTx(ctx, db, func(tx *sql.Tx) error {
		for _, s := range seeds {
			u, isNew, err := users.GetOrCreateByEmailTx(ctx, tx, s.Email)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Email, err)
			}
			if isNew {
				created++
			}

			active := true
			canAccept := s.CanAcceptSuits
			superadmin := s.IsSuperadmin
			upd := repositories.AdminUpdate{
				Active:         &active,
				CanAcceptSuits: &canAccept,
				IsSuperadmin:   &superadmin,
			}
			if name := strings.TrimSpace(s.Name); name != "" {
				upd.Name = &name
			}
			if err := users.UpdateAdminTx(ctx, tx, u.ID, upd); err != nil {
				return fmt.Errorf("%s: %w", s.Email, err)
			}
			if err := users.AddRoleTx(ctx, tx, u.ID, models.RoleAdmin); err != nil {
				return fmt.Errorf("%s: %w", s.Email, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}
