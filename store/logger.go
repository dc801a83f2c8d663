package store

import (
	"strings"

	"github.com/canopy-network/dbft/lib"
	"github.com/dgraph-io/badger/v4"
)

var _ badger.Logger = &badgerLogger{}

// badgerLogger routes the database logs through the node logger
type badgerLogger struct{ log lib.LoggerI }

func newBadgerLogger(l lib.LoggerI) *badgerLogger {
	if l == nil {
		l = lib.NewNullLogger()
	}
	return &badgerLogger{log: l.WithPrefix("badger")}
}

// badger terminates its lines itself
func (b *badgerLogger) Errorf(f string, v ...interface{})   { b.log.Errorf(trim(f), v...) }
func (b *badgerLogger) Warningf(f string, v ...interface{}) { b.log.Warnf(trim(f), v...) }
func (b *badgerLogger) Infof(f string, v ...interface{})    { b.log.Debugf(trim(f), v...) }
func (b *badgerLogger) Debugf(f string, v ...interface{})   { b.log.Debugf(trim(f), v...) }

func trim(f string) string { return strings.TrimSuffix(f, "\n") }
