package assignment

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// User is one reviewer/approver identity from the user directory.
	User struct {
		// ID is the stable directory identifier. Least-loaded ties are broken
		// by ascending ID, so IDs must be unique.
		ID string `yaml:"id"`

		// Name is the display name (informational only).
		Name string `yaml:"name"`

		// Entities lists the reporting entities the user is eligible for.
		Entities []string `yaml:"entities"`

		// Approver marks the user as eligible to approve (reviewers by default).
		Approver bool `yaml:"approver"`
	}

	// Directory is the read-only user-directory collaborator: the engine only
	// ever asks it who is eligible for an entity.
	Directory interface {
		// Reviewers lists users eligible to review records of the entity.
		Reviewers(ctx context.Context, entity string) ([]User, error)

		// Approvers lists users eligible to approve records of the entity.
		Approvers(ctx context.Context, entity string) ([]User, error)
	}

	// StaticDirectory is a Directory backed by a fixed user list, loaded from
	// a YAML file or assembled in tests.
	StaticDirectory struct {
		users []User
	}

	// directoryFile is the YAML document shape for directory files.
	directoryFile struct {
		Users []User `yaml:"users"`
	}
)

// NewStaticDirectory creates a StaticDirectory from a fixed user list.
func NewStaticDirectory(users []User) *StaticDirectory {
	return &StaticDirectory{users: users}
}

// LoadDirectory reads a StaticDirectory from a YAML file.
func LoadDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file %s: %w", path, err)
	}

	var doc directoryFile

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
	}

	return NewStaticDirectory(doc.Users), nil
}

// Reviewers implements Directory.
func (d *StaticDirectory) Reviewers(_ context.Context, entity string) ([]User, error) {
	return d.eligible(entity, false), nil
}

// Approvers implements Directory.
func (d *StaticDirectory) Approvers(_ context.Context, entity string) ([]User, error) {
	return d.eligible(entity, true), nil
}

func (d *StaticDirectory) eligible(entity string, approver bool) []User {
	var out []User

	for _, u := range d.users {
		if approver && !u.Approver {
			continue
		}

		for _, e := range u.Entities {
			if e == entity {
				out = append(out, u)

				break
			}
		}
	}

	return out
}
