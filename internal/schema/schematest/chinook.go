// Package schematest provides a small Chinook catalog for tests.
package schematest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/schema"

	_ "modernc.org/sqlite"
)

func intCol(name string) schema.Column {
	return schema.Column{Name: name, Type: "INTEGER"}
}

func textCol(name string) schema.Column {
	return schema.Column{Name: name, Type: "NVARCHAR(120)", Nullable: true}
}

func pk(name string) schema.Column {
	return schema.Column{Name: name, Type: "INTEGER", PrimaryKey: true}
}

func fk(name, table string) schema.Column {
	return schema.Column{Name: name, Type: "INTEGER", ForeignKey: &schema.ForeignKeyRef{Table: table, Column: name}}
}

func Tables() []schema.Table {
	return []schema.Table{
		{Name: "Artist", Columns: []schema.Column{pk("ArtistId"), textCol("Name")}},
		{Name: "Album", Columns: []schema.Column{pk("AlbumId"), textCol("Title"), fk("ArtistId", "Artist")}},
		{Name: "Genre", Columns: []schema.Column{pk("GenreId"), textCol("Name")}},
		{Name: "Track", Columns: []schema.Column{
			pk("TrackId"), textCol("Name"), fk("AlbumId", "Album"), fk("GenreId", "Genre"),
			intCol("Milliseconds"), {Name: "UnitPrice", Type: "NUMERIC(10,2)"},
		}},
		{Name: "Customer", Columns: []schema.Column{
			pk("CustomerId"), textCol("FirstName"), textCol("LastName"), textCol("Country"), textCol("Email"),
		}},
		{Name: "Invoice", Columns: []schema.Column{
			pk("InvoiceId"), fk("CustomerId", "Customer"), {Name: "InvoiceDate", Type: "DATETIME"},
			textCol("BillingCountry"), {Name: "Total", Type: "NUMERIC(10,2)"},
		}},
		{Name: "InvoiceLine", Columns: []schema.Column{
			pk("InvoiceLineId"), fk("InvoiceId", "Invoice"), fk("TrackId", "Track"),
			{Name: "UnitPrice", Type: "NUMERIC(10,2)"}, intCol("Quantity"),
		}},
	}
}

func Descriptor(t testing.TB) *schema.Descriptor {
	t.Helper()
	desc, err := schema.NewDescriptor(Tables())
	if err != nil {
		t.Fatalf("NewDescriptor() error = %v", err)
	}
	return desc
}

// DDL creates the Tables() catalog in SQLite.
var DDL = []string{
	`CREATE TABLE Artist (ArtistId INTEGER PRIMARY KEY, Name NVARCHAR(120))`,
	`CREATE TABLE Album (AlbumId INTEGER PRIMARY KEY, Title NVARCHAR(160) NOT NULL, ArtistId INTEGER NOT NULL REFERENCES Artist(ArtistId))`,
	`CREATE TABLE Genre (GenreId INTEGER PRIMARY KEY, Name NVARCHAR(120))`,
	`CREATE TABLE Track (TrackId INTEGER PRIMARY KEY, Name NVARCHAR(200) NOT NULL, AlbumId INTEGER REFERENCES Album(AlbumId), GenreId INTEGER REFERENCES Genre(GenreId), Milliseconds INTEGER NOT NULL, UnitPrice NUMERIC(10,2) NOT NULL)`,
	`CREATE TABLE Customer (CustomerId INTEGER PRIMARY KEY, FirstName NVARCHAR(40) NOT NULL, LastName NVARCHAR(20) NOT NULL, Country NVARCHAR(40), Email NVARCHAR(60) NOT NULL)`,
	`CREATE TABLE Invoice (InvoiceId INTEGER PRIMARY KEY, CustomerId INTEGER NOT NULL REFERENCES Customer(CustomerId), InvoiceDate DATETIME NOT NULL, BillingCountry NVARCHAR(40), Total NUMERIC(10,2) NOT NULL)`,
	`CREATE TABLE InvoiceLine (InvoiceLineId INTEGER PRIMARY KEY, InvoiceId INTEGER NOT NULL REFERENCES Invoice(InvoiceId), TrackId INTEGER NOT NULL REFERENCES Track(TrackId), UnitPrice NUMERIC(10,2) NOT NULL, Quantity INTEGER NOT NULL)`,
}

type SeedOptions struct {
	Artists int
	Albums  int
	Tracks  int
}

// OpenSQLite returns a shared in-memory SQLite database holding the
// catalog and seeded rows. The database is closed with the test.
func OpenSQLite(t testing.TB, seed SeedOptions) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	// A shared in-memory database lives only while a connection is open.
	keeper, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("hold connection: %v", err)
	}
	t.Cleanup(func() { _ = keeper.Close() })

	for _, stmt := range DDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	if err := Seed(ctx, db, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func Seed(ctx context.Context, db *sql.DB, seed SeedOptions) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	artists := seed.Artists
	if artists <= 0 && (seed.Albums > 0 || seed.Tracks > 0) {
		artists = 1
	}
	for i := 1; i <= artists; i++ {
		if _, err := tx.ExecContext(ctx, `INSERT INTO Artist (ArtistId, Name) VALUES (?, ?)`, i, fmt.Sprintf("Artist %d", i)); err != nil {
			return fmt.Errorf("insert artist: %w", err)
		}
	}
	for i := 1; i <= seed.Albums; i++ {
		artistID := (i-1)%artists + 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO Album (AlbumId, Title, ArtistId) VALUES (?, ?, ?)`, i, fmt.Sprintf("Album %d", i), artistID); err != nil {
			return fmt.Errorf("insert album: %w", err)
		}
	}
	for i := 1; i <= seed.Tracks; i++ {
		var albumID any
		if seed.Albums > 0 {
			albumID = (i-1)%seed.Albums + 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO Track (TrackId, Name, AlbumId, Milliseconds, UnitPrice) VALUES (?, ?, ?, ?, ?)`,
			i, fmt.Sprintf("Track %d", i), albumID, 180000+i, 0.99,
		); err != nil {
			return fmt.Errorf("insert track: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}
