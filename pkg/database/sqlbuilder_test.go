package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type widgetRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

func TestInsertBuilderOnConflict(t *testing.T) {
	row := widgetRow{ID: "w-1", Name: "anvil"}
	ib := NewStruct(new(widgetRow)).InsertInto("widgets", row)
	ub := ib.OnConflict("id")
	ub.Set(ub.Assign("name", Excluded("name")))

	sql, args := ib.Build()

	assert.Contains(t, sql, "INSERT INTO widgets")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
	assert.Contains(t, sql, "name = EXCLUDED.name")
	assert.Contains(t, args, "w-1")
	assert.Contains(t, args, "anvil")
}

func TestInsertBuilderOnConflictDoNothing(t *testing.T) {
	ib := NewInsertBuilder().InsertInto("widgets").Cols("id", "name").Values("w-1", "anvil")
	ib.OnConflictDoNothing()

	sql, _ := ib.Build()

	assert.Contains(t, sql, "ON CONFLICT DO NOTHING")
}

func TestUpdateBuilder(t *testing.T) {
	ub := NewUpdateBuilder()
	ub.Update("widgets").
		Set(ub.Assign("name", "anvil")).
		Where(ub.Equal("id", "w-1"))

	sql, args := ub.Build()

	assert.Equal(t, "UPDATE widgets SET name = $1 WHERE id = $2", sql)
	assert.Equal(t, []interface{}{"anvil", "w-1"}, args)
}

func TestDeleteBuilder(t *testing.T) {
	db := NewDeleteBuilder()
	db.DeleteFrom("widgets").Where(db.Equal("id", "w-1"))

	sql, args := db.Build()

	assert.Equal(t, "DELETE FROM widgets WHERE id = $1", sql)
	assert.Equal(t, []interface{}{"w-1"}, args)
}
