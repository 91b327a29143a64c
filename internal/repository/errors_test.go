package repository

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestMapErr(t *testing.T) {
	seatDup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1-101' for key 'tickets.uq_tickets_showtime_seat'"}
	idDup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'T000001' for key 'tickets.PRIMARY'"}
	oldIDDup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'T000001' for key 'PRIMARY'"}
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock; try restarting transaction"}
	lockWait := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded; try restarting transaction"}

	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(sql.ErrNoRows), ErrNotFound)

	err := mapErr(fmt.Errorf("insert: %w", seatDup))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrDuplicateID)
	assert.ErrorIs(t, err, seatDup)

	for _, e := range []error{idDup, oldIDDup} {
		err = mapErr(e)
		assert.ErrorIs(t, err, ErrConflict)
		assert.ErrorIs(t, err, ErrDuplicateID)
	}

	for _, e := range []error{deadlock, lockWait} {
		err = mapErr(e)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NotErrorIs(t, err, ErrDuplicateID)
		assert.True(t, IsLockConflict(e))
	}
	assert.False(t, IsLockConflict(seatDup))

	other := &mysql.MySQLError{Number: 1146, Message: "Table 'cinema.nope' doesn't exist"}
	assert.NotErrorIs(t, mapErr(other), ErrConflict)
}
