package crawler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/models"
	"site-mapper/pkg/utils"
)

// WriteReport writes the site map report: a commented header, the done URLs
// with their depth in discovery order, and skipped/failed sections with
// reasons. Returns the final file path.
func (c *Crawler) WriteReport(outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: cannot create output directory '%s': %w", utils.ErrFilesystem, outputDir, err)
	}
	filename := utils.SanitizeFilename(c.crawlCfg.AllowedDomain) + "_map.txt"
	filePath := filepath.Join(outputDir, filename)

	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: creating report '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	done := c.frontier.DoneURLs()
	skipped := c.frontier.RecordsByStatus(models.URLStatusSkipped)
	failed := c.frontier.RecordsByStatus(models.URLStatusFailed)
	counters := c.frontier.Counters()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "# Site map for %s\n", c.crawlCfg.AllowedDomain)
	fmt.Fprintf(w, "# Seed:       %s\n", c.seedCanon)
	fmt.Fprintf(w, "# Session:    %s\n", c.sessionID)
	fmt.Fprintf(w, "# Started:    %s\n", c.startedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "# Generated:  %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Mapped: %d, Failed: %d, Skipped: %d (of %d discovered)\n",
		len(done), len(failed), counters.Skipped, counters.Discovered+counters.Skipped)
	fmt.Fprintln(w, "#")

	for _, rec := range done {
		fmt.Fprintf(w, "%s\tdepth=%d\n", rec.URL, rec.Depth)
	}

	if len(failed) > 0 {
		fmt.Fprintln(w, "#")
		fmt.Fprintln(w, "# Failed URLs:")
		for _, rec := range failed {
			fmt.Fprintf(w, "# %s\t%s\n", rec.URL, rec.Reason)
		}
	}
	if len(skipped) > 0 {
		fmt.Fprintln(w, "#")
		fmt.Fprintln(w, "# Skipped URLs:")
		for _, rec := range skipped {
			fmt.Fprintf(w, "# %s\t%s\n", rec.URL, rec.Reason)
		}
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("%w: flushing report '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("%w: syncing report '%s': %w", utils.ErrFilesystem, filePath, err)
	}

	c.log.WithFields(logrus.Fields{"path": filePath, "urls": len(done)}).Info("Site map report written")
	return filePath, nil
}
