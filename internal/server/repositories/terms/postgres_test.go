package terms

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var termColumns = []string{"id", "profile_id", "kind", "slug", "name", "system", "code", "note",
	"onset_date", "dose", "criticality", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	onset := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	term := &models.Term{ID: "t1", ProfileID: "p1", Kind: models.TermCondition, Slug: "asthma", Name: "Asthma", OnsetDate: &onset}

	mock.ExpectQuery(`(?s)^\s*INSERT\s+INTO\s+medical_terms\b.*RETURNING\s+created_at,\s*updated_at\s*$`).
		WithArgs("t1", "p1", "condition", "asthma", "Asthma", "", "", "", sql.NullTime{Time: onset, Valid: true}, "", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), term))
	assert.Equal(t, now, term.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_SlugTaken(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+medical_terms`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: SlugConstraint})

	err := repo.Create(context.Background(), &models.Term{ID: "t1", Kind: models.TermAllergy})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestCreate_OtherUniqueIsDBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)INSERT\s+INTO\s+medical_terms`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "medical_terms_pkey"})

	err := repo.Create(context.Background(), &models.Term{ID: "t1"})
	assert.NotErrorIs(t, err, common.ErrorAlreadyExists)
	assert.ErrorContains(t, err, "db error")
}

func TestSlugOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+profile_id\s+FROM\s+medical_terms\s+WHERE\s+kind\s*=\s*\$1\s+AND\s+slug\s*=\s*\$2$`
	mock.ExpectQuery(q).WithArgs("allergy", "latex").
		WillReturnRows(sqlmock.NewRows([]string{"profile_id"}).AddRow("p9"))
	mock.ExpectQuery(q).WithArgs("allergy", "none").WillReturnError(sql.ErrNoRows)

	owner, err := repo.SlugOwner(context.Background(), models.TermAllergy, "latex")
	require.NoError(t, err)
	assert.Equal(t, "p9", owner)

	_, err = repo.SlugOwner(context.Background(), models.TermAllergy, "none")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestProfileHoldsBase(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+EXISTS\s*\(.*FROM\s+medical_terms\s+WHERE\s+profile_id\s*=\s*\$1\s+AND\s+kind\s*=\s*\$2\s+AND\s+\(slug\s*=\s*\$3\s+OR\s+slug\s*~`
	mock.ExpectQuery(q).WithArgs("p1", "condition", "asthma").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("p2", "condition", "asthma").
		WillReturnError(errors.New("conn reset"))

	held, err := repo.ProfileHoldsBase(context.Background(), "p1", models.TermCondition, "asthma")
	require.NoError(t, err)
	assert.True(t, held)

	_, err = repo.ProfileHoldsBase(context.Background(), "p2", models.TermCondition, "asthma")
	assert.ErrorContains(t, err, "db error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByProfile(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(termColumns).
		AddRow("t1", "p1", "allergy", "latex", "Latex", "", "", "", nil, "", "high", now, now).
		AddRow("t2", "p1", "condition", "asthma", "Asthma", "snomed", "195967001", "", now, "", "", now, now)

	mock.ExpectQuery(`(?s)FROM\s+medical_terms\s+WHERE\s+profile_id\s*=\s*\$1\s+AND\s+\(\$2\s*=\s*''\s+OR\s+kind\s*=\s*\$2\)\s+ORDER\s+BY\s+kind,\s*name$`).
		WithArgs("p1", "").
		WillReturnRows(rows)

	got, err := repo.ListByProfile(context.Background(), "p1", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.TermAllergy, got[0].Kind)
	assert.Nil(t, got[0].OnsetDate)
	require.NotNil(t, got[1].OnsetDate)
	assert.Equal(t, "195967001", got[1].Code)
}

func TestUpdateDelete_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*UPDATE\s+medical_terms\s+SET\s+name\s*=\s*\$3.*WHERE\s+id\s*=\s*\$1\s+AND\s+profile_id\s*=\s*\$2\s*$`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+medical_terms\s+WHERE\s+id\s*=\s*\$1\s+AND\s+profile_id\s*=\s*\$2$`).
		WithArgs("t1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Update(context.Background(), &models.Term{ID: "t1", ProfileID: "p1"}), common.ErrorNotFound)
	assert.ErrorIs(t, repo.Delete(context.Background(), "p1", "t1"), common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM\s+medical_terms\s+WHERE\s+id`).WillReturnError(errors.New("db err"))

	_, err := repo.Get(context.Background(), "p1", "t1")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
