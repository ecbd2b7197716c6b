package server

import (
	"fmt"
	"log"

	"github.com/crystal-mush/mushkeeper/pkg/archive"
)

// Archive snapshots the bolt store, the SQL audit, the config files and the
// last dbck report into Conf.ArchiveDir, then prunes down to ArchiveKeep.
// The game lock is held so no pass or save runs mid-snapshot.
func (g *Game) Archive(reason string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Conf.ArchiveDir == "" {
		return "", fmt.Errorf("server: archive_dir is not set")
	}
	p := archive.Params{
		ConfPath:    g.ConfPath,
		Included:    g.Conf.Included,
		Report:      g.lastReport,
		Dir:         g.Conf.ArchiveDir,
		MudName:     g.Conf.MudName,
		ObjectCount: g.DB.Top(),
		Reason:      reason,
	}
	if g.Store != nil {
		p.BoltSnapshot = g.Store.Backup
	}
	if g.Audit != nil {
		p.SQLPath = g.Audit.Path()
		p.SQLCheckpoint = g.Audit.Checkpoint
	}

	path, err := archive.Create(p)
	if err != nil {
		return "", err
	}
	log.Printf("server: archive written to %s", path)
	if n, err := archive.Prune(g.Conf.ArchiveDir, g.Conf.ArchiveKeep); err != nil {
		log.Printf("server: archive prune: %v", err)
	} else if n > 0 {
		log.Printf("server: pruned %d old archives", n)
	}
	return path, nil
}

// Archives lists existing archives, newest first.
func (g *Game) Archives() ([]archive.Info, error) {
	return archive.List(g.Config().ArchiveDir)
}
