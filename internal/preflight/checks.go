package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"sead/internal/archive"
	"sead/internal/fixity"
	"sead/internal/sip"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace compares the free ratio reported by statfs with floor. A
// floor of zero only reports the numbers.
func CheckFreeSpace(name string, statfs func() (total, free uint64, err error), floor float64) Result {
	total, free, err := statfs()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("statfs failed (%v)", err)}
	}
	if total == 0 {
		return Result{Name: name, Passed: true, Detail: "filesystem size unknown"}
	}
	ratio := float64(free) / float64(total)
	detail := fmt.Sprintf("%s of %s free (%.1f%%)", humanize.IBytes(free), humanize.IBytes(total), ratio*100)
	if floor > 0 && ratio < floor {
		return Result{Name: name, Detail: fmt.Sprintf("%s, below floor %.1f%%", detail, floor*100)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckFixity verifies that every configured digest algorithm is supported.
func CheckFixity(algorithms []string) Result {
	const name = "Fixity algorithms"
	if len(algorithms) == 0 {
		return Result{Name: name, Passed: true, Detail: "disabled"}
	}
	var unknown []string
	canonical := make([]string, 0, len(algorithms))
	for _, alg := range algorithms {
		c, ok := fixity.Canonical(alg)
		if !ok {
			unknown = append(unknown, alg)
			continue
		}
		canonical = append(canonical, c)
	}
	if len(unknown) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("unsupported: %s (supported: %s)",
			strings.Join(unknown, ", "), strings.Join(fixity.Supported(), ", "))}
	}
	return Result{Name: name, Passed: true, Detail: strings.Join(canonical, ", ")}
}

// CheckArchive verifies that the archive database answers queries.
func CheckArchive(ctx context.Context, store *archive.Store) Result {
	const name = "Archive database"
	if store == nil {
		return Result{Name: name, Detail: "not opened"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := store.Stats(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", store.Path(), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d packages archived, %d files, %d staged",
		stats.Ingested, stats.ByKind[sip.KindFile], stats.ByKind[archive.KindStagedPackage])}
}
