package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/tipper/internal/model"
)

// SeedUser is a user to create on first start, with a clear-text password
// that is hashed before storing.
type SeedUser struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	Role        model.UserRole
}

// Seed is the data Initialize loads into an empty database.
type Seed struct {
	Users []SeedUser
	Exams []model.Exam
	// Every seeded student joins the first seeded teacher's class.
	EnrollStudents bool
}

// DemoSeed returns a small classroom: one teacher, two students and one
// upcoming exam a week after today.
func DemoSeed(today time.Time) Seed {
	y, m, d := today.Date()
	return Seed{
		Users: []SeedUser{
			{Username: "student1", Email: "student1@example.com", DisplayName: "Student 1", Password: "student1", Role: model.UserRoleStudent},
			{Username: "student2", Email: "student2@example.com", DisplayName: "Student 2", Password: "student2", Role: model.UserRoleStudent},
			{Username: "teacher", Email: "teacher@example.com", DisplayName: "Teacher", Password: "teacher", Role: model.UserRoleTeacher},
		},
		Exams: []model.Exam{{
			Title:       "Proportionality",
			Subject:     "Mathematics",
			Description: "Exam on proportionality",
			Date:        time.Date(y, m, d+7, 0, 0, 0, 0, time.UTC),
		}},
		EnrollStudents: true,
	}
}

// Initialize loads seed into the database once. It returns false without
// touching anything when the database was initialized before.
func (s *Store) Initialize(seed Seed, now time.Time) (bool, error) {
	applied := false
	err := s.inTx(func(tx *sql.Tx) error {
		done, err := getSetting(tx, settingSeeded)
		if err != nil || done != "" {
			return err
		}

		var teacherID int64
		var studentIDs []int64
		for _, su := range seed.Users {
			hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password for %s: %w", su.Username, err)
			}
			id, err := createUser(tx, model.User{
				Username:     su.Username,
				Email:        su.Email,
				DisplayName:  su.DisplayName,
				PasswordHash: string(hash),
				Role:         su.Role,
				Active:       true,
			})
			if err != nil {
				return err
			}
			switch su.Role {
			case model.UserRoleTeacher:
				if teacherID == 0 {
					teacherID = id
				}
			case model.UserRoleStudent:
				studentIDs = append(studentIDs, id)
			}
		}

		for _, e := range seed.Exams {
			if _, err := tx.Exec(
				`INSERT INTO exams (title, subject, description, exam_date, is_closed) VALUES (?, ?, ?, ?, 0)`,
				e.Title, e.Subject, e.Description, e.DateString(),
			); err != nil {
				return fmt.Errorf("seed exam %q: %w", e.Title, err)
			}
		}

		if seed.EnrollStudents && teacherID != 0 {
			for _, sid := range studentIDs {
				if err := addMember(tx, sid, teacherID, now); err != nil {
					return err
				}
			}
		}

		applied = true
		return setSetting(tx, settingSeeded, now.UTC().Format(time.RFC3339))
	})
	if err != nil {
		return false, fmt.Errorf("initialize: %w", err)
	}
	if applied {
		slog.Info("initialized database", "users", len(seed.Users), "exams", len(seed.Exams))
	}
	return applied, nil
}
