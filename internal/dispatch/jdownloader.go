package dispatch

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbsparrow/cyberdrop-dl/internal/scraper"
)

// writeCrawljob drops a JDownloader folderwatch .crawljob file for a URL
// no scraper claims. JDownloader picks the file up and queues the link
// itself; the job name is derived from the URL so repeats overwrite
// instead of piling up.
func writeCrawljob(watchFolder, downloadFolder string, item *scraper.ScrapeItem) error {
	if err := os.MkdirAll(watchFolder, 0755); err != nil {
		return err
	}
	folder := downloadFolder
	if item.ParentTitle != "" {
		folder = filepath.Join(folder, item.ParentTitle)
	}
	sum := sha1.Sum([]byte(item.URL.String()))
	name := hex.EncodeToString(sum[:8]) + ".crawljob"

	job := fmt.Sprintf(
		"text=%s\ndownloadFolder=%s\nenabled=TRUE\nautoStart=TRUE\nautoConfirm=TRUE\noverwritePackagizerEnabled=TRUE\n",
		item.URL, folder,
	)
	return os.WriteFile(filepath.Join(watchFolder, name), []byte(job), 0644)
}
