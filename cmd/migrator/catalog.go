package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// MigrationCatalog validates the migration file set before it is handed to
// golang-migrate: filename format, up/down pairing, gap-free sequencing and
// checksum integrity across repeated validations.
type MigrationCatalog struct {
	migrationsPath string
	checksums      map[string]string // filename -> checksum for integrity checking
}

// MigrationInfo contains parsed information about a migration file
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
	Checksum  string
}

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// NewMigrationCatalog creates a catalog over a migrations directory
func NewMigrationCatalog(migrationsPath string) *MigrationCatalog {
	return &MigrationCatalog{
		migrationsPath: migrationsPath,
		checksums:      make(map[string]string),
	}
}

// List returns all migration files that conform to the strict naming
// standard. Files with nonconforming names are excluded rather than
// tolerated: a silently ignored migration is an operational mistake waiting
// to happen.
func (c *MigrationCatalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	// Lexicographic order matches sequence order under the naming standard.
	sort.Strings(files)

	return files, nil
}

// Validate performs comprehensive validation of the migration file set:
// filename format, up/down pairing, sequence gaps and checksum integrity.
func (c *MigrationCatalog) Validate() error {
	if _, err := os.Stat(c.migrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", c.migrationsPath)
	}

	files, err := c.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found in directory: %s", c.migrationsPath)
	}

	if err := c.validateFilenames(files); err != nil {
		return err
	}

	if err := c.validatePairing(files); err != nil {
		return err
	}

	if err := c.validateSequence(files); err != nil {
		return err
	}

	// Checksums only exist after a prior Validate; first run records them.
	if len(c.checksums) > 0 {
		if err := c.validateChecksums(files); err != nil {
			return err
		}
	}

	for _, file := range files {
		content, err := c.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		c.checksums[file] = checksum(content)
	}

	return nil
}

// Content returns the content of a specific migration file.
func (c *MigrationCatalog) Content(filename string) ([]byte, error) {
	return os.ReadFile(filepath.Join(c.migrationsPath, filename))
}

// parseMigrationFilename parses a migration filename and extracts its components
func (c *MigrationCatalog) parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validateFilenames validates that all migration files follow the naming convention
func (c *MigrationCatalog) validateFilenames(files []string) error {
	for _, file := range files {
		if _, err := c.parseMigrationFilename(file); err != nil {
			return fmt.Errorf("filename validation failed for %s: %w", file, err)
		}
	}

	return nil
}

// validatePairing ensures that every up migration has a corresponding down migration
func (c *MigrationCatalog) validatePairing(files []string) error {
	migrations := make(map[string]map[string]*MigrationInfo) // sequence_name -> direction -> migration

	for _, file := range files {
		migration, err := c.parseMigrationFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", migration.Sequence, migration.Name)
		if migrations[key] == nil {
			migrations[key] = make(map[string]*MigrationInfo)
		}

		migrations[key][migration.Direction] = migration
	}

	for key, directions := range migrations {
		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures the sequence starts at 001 and has no gaps
func (c *MigrationCatalog) validateSequence(files []string) error {
	sequences := make(map[int]bool)

	for _, file := range files {
		migration, err := c.parseMigrationFilename(file)
		if err != nil {
			return err
		}

		sequences[migration.Sequence] = true
	}

	var sequenceNumbers []int
	for seq := range sequences {
		sequenceNumbers = append(sequenceNumbers, seq)
	}

	sort.Ints(sequenceNumbers)

	if len(sequenceNumbers) == 0 {
		return nil
	}

	if sequenceNumbers[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequenceNumbers[0])
	}

	for i := 1; i < len(sequenceNumbers); i++ {
		expected := sequenceNumbers[i-1] + 1
		if sequenceNumbers[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d",
				expected, sequenceNumbers[i])
		}
	}

	return nil
}

// validateChecksums verifies that migration files haven't been modified since
// the catalog last recorded them
func (c *MigrationCatalog) validateChecksums(files []string) error {
	for _, file := range files {
		content, err := c.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s for checksum validation: %w", file, err)
		}

		if stored, exists := c.checksums[file]; exists && checksum(content) != stored {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
		}
	}

	return nil
}

// checksum calculates the SHA256 checksum of content
func checksum(content []byte) string {
	hash := sha256.Sum256(content)

	return fmt.Sprintf("%x", hash)
}
