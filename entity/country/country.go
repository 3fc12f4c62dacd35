// Package country is the reference auditable entity: a country with two
// localized names, looked up by ISO 3166 alpha-2 code through a digest index.
package country

import (
	"context"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/cache"
	"github.com/goliatone/go-ledger-cache/chain"
	"github.com/goliatone/go-ledger-cache/digest"
	"github.com/goliatone/go-ledger-cache/index"
	"github.com/goliatone/go-ledger-cache/notify"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/goliatone/go-ledger-cache/repository"
)

// EntityType names countries in audit rows.
const EntityType = "country"

// Iso2Index is the integer index over the digest of the upper-cased ISO code.
const Iso2Index = "iso2_hash"

var iso2Pattern = regexp.MustCompile(`^[A-Z]{2}$`)

type Country struct {
	bun.BaseModel `bun:"table:countries" msgpack:"-"`

	ID     uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Iso2   string    `bun:"iso2,notnull" json:"iso2"`
	NameL1 string    `bun:"name_l1,notnull" json:"name_l1"`
	NameL2 string    `bun:"name_l2,notnull" json:"name_l2"`
	chain.Fields
}

func (c Country) WithChainFields(f chain.Fields) Country {
	c.Fields = f
	return c
}

func (c Country) PrimaryID() uuid.UUID { return c.ID }

func (c Country) Index() Index {
	return Index{ID: c.ID, Iso2Hash: Iso2Hash(c.Iso2)}
}

func (c Country) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Iso2, validation.Required, validation.Match(iso2Pattern)),
		validation.Field(&c.NameL1, validation.Required, validation.Length(1, 200)),
		validation.Field(&c.NameL2, validation.Length(0, 200)),
	)
}

// Index is the narrow record kept in memory for every country.
type Index struct {
	bun.BaseModel `bun:"table:country_idx"`

	ID       uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Iso2Hash int64     `bun:"iso2_hash,notnull" json:"iso2_hash"`
}

func (i Index) PrimaryID() uuid.UUID { return i.ID }

// Iso2Hash is the index key of an ISO code. Lookups are case-insensitive.
func Iso2Hash(iso2 string) int64 {
	return digest.Text(strings.ToUpper(strings.TrimSpace(iso2)))
}

// Schema declares the country secondary indices.
func Schema() index.Schema[Index] {
	return index.Schema[Index]{
		I64: map[string]func(Index) (int64, bool){
			Iso2Index: func(i Index) (int64, bool) { return i.Iso2Hash, true },
		},
	}
}

// Options builds store options for countries. mainCache may be nil.
func Options(mainCache *cache.Config, pub notify.Publisher, logger *zap.Logger) repository.Options[Index] {
	return repository.Options[Index]{
		EntityType: EntityType,
		Schema:     Schema(),
		MainCache:  mainCache,
		Publisher:  pub,
		Logger:     logger,
	}
}

type (
	Store      = repository.Store[Country, Index]
	Repository = repository.Repository[Country, Index]
)

// NewStore opens the process-wide country store.
func NewStore(ctx context.Context, db *bun.DB, opts repository.Options[Index]) (*Store, error) {
	return repository.NewStore[Country](ctx, db, opts)
}

// CreateSchema creates the country tables. The index table references the main
// table so an index row can never outlive its country.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*Country)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return dataerr.Database(err, "create countries table")
	}

	_, err = db.NewCreateTable().
		Model((*Index)(nil)).
		IfNotExists().
		ForeignKey(`("id") REFERENCES "countries" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return dataerr.Database(err, "create country_idx table")
	}

	_, err = db.NewCreateIndex().
		Model((*Index)(nil)).
		Index("country_idx_iso2_hash_idx").
		Column("iso2_hash").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return dataerr.Database(err, "create country iso2 index")
	}
	return nil
}

// FindByIso2Hash returns the index records whose code digests to hash,
// including changes staged in repo's unit of work.
func FindByIso2Hash(ctx context.Context, repo *Repository, hash int64) ([]Index, error) {
	return repo.FindByI64(ctx, Iso2Index, hash)
}

func FindByIso2(ctx context.Context, repo *Repository, iso2 string) ([]Index, error) {
	return FindByIso2Hash(ctx, repo, Iso2Hash(iso2))
}

// LoadByIso2 resolves the code through the index and loads the full countries.
func LoadByIso2(ctx context.Context, repo *Repository, iso2 string) ([]Country, error) {
	found, err := FindByIso2(ctx, repo, iso2)
	if err != nil || len(found) == 0 {
		return nil, err
	}

	ids := make([]uuid.UUID, len(found))
	for i, rec := range found {
		ids[i] = rec.ID
	}
	loaded, err := repo.LoadBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Country, 0, len(loaded))
	for _, c := range loaded {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}
