package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "game.bolt"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestDB() *gamedb.Database {
	db := gamedb.NewDatabase()
	obj := func(ref gamedb.DBRef, kind gamedb.ObjectType, name string) *gamedb.Object {
		o := &gamedb.Object{DBRef: ref, Name: name, Owner: 1, Flags: [3]int{int(kind)}}
		o.Location, o.Zone, o.Contents, o.Exits = gamedb.Nothing, gamedb.Nothing, gamedb.Nothing, gamedb.Nothing
		o.Link, o.Next, o.Parent = gamedb.Nothing, gamedb.Nothing, gamedb.Nothing
		db.Put(o)
		return o
	}
	limbo := obj(0, gamedb.TypeRoom, "Limbo")
	limbo.Contents = 1
	god := obj(1, gamedb.TypePlayer, "Wizard")
	god.Location, god.Link = 0, 0
	god.SetAttr(gamedb.AttrAlias, "W")
	db.Put(god)
	db.Grow(4)
	db.AddAttrDef(300, "NOTES", 0)
	return db
}

func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	if s.HasData() {
		t.Fatal("new store has data")
	}
	db := makeTestDB()
	if err := s.Save(db); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.HasData() {
		t.Fatal("HasData false after Save")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Top() != 4 {
		t.Errorf("db_top = %d, want 4", got.Top())
	}
	if got.Objects[1].Name != "Wizard" || got.Objects[1].Location != 0 || got.Objects[0].Contents != 1 {
		t.Errorf("objects not restored: %+v", got.Objects[1])
	}
	if got.LookupPlayer("w") != 1 {
		t.Error("alias not indexed on load")
	}
	if got.AttrDefs[300].Name != "NOTES" || got.NextAttr != db.NextAttr {
		t.Errorf("attr defs %+v next %d", got.AttrDefs, got.NextAttr)
	}
	if !got.IsClean(3) {
		t.Error("garbage slot not clean after load")
	}
}

func TestSaveDropsTrimmedSlots(t *testing.T) {
	s := openTestStore(t)
	db := makeTestDB()
	if err := s.Save(db); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dbck.New(db, dbck.Options{Standalone: true}, nil).Run()
	if db.Top() != 2 {
		t.Fatalf("db_top after dbck = %d", db.Top())
	}
	if err := s.Save(db); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Top() != 2 {
		t.Errorf("db_top = %d, want 2", got.Top())
	}
}

func TestReportHistory(t *testing.T) {
	s := openTestStore(t)
	s.ReportKeep = 3
	for i := 0; i < 5; i++ {
		r := &dbck.Report{Top: i, Findings: []dbck.Finding{{ObjectRef: gamedb.DBRef(i), Message: "x"}}}
		if err := s.PutReport(r); err != nil {
			t.Fatalf("PutReport: %v", err)
		}
	}

	all, err := s.Reports(0)
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("kept %d reports, want 3", len(all))
	}
	for i, want := range []int{4, 3, 2} {
		if all[i].Top != want {
			t.Errorf("report %d has db_top %d, want %d", i, all[i].Top, want)
		}
	}

	latest, _ := s.Reports(1)
	if len(latest) != 1 || latest[0].Findings[0].ObjectRef != 4 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestBackup(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save(makeTestDB()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := filepath.Join(t.TempDir(), "backup.bolt")
	if err := s.Backup(path); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open backup: %v", err)
	}
	defer b.Close()
	db, err := b.Load()
	if err != nil || db.Top() != 4 {
		t.Fatalf("backup load: top %v err %v", db, err)
	}
}
