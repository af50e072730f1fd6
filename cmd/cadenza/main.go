package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/cadenza-player/cadenza/internal/adapter/boltcache"
	"github.com/cadenza-player/cadenza/internal/adapter/subsonic"
	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/domain"
	"github.com/cadenza-player/cadenza/internal/log"
	"github.com/cadenza-player/cadenza/internal/manager"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `Usage: cadenza <command> [args]

Commands:
  playlists                 list playlists
  playlist <id>             show a playlist's songs
  albums [type]             list albums (random, newest, frequent, recent,
                            starred, alphabeticalByName, alphabeticalByArtist)
  search <query>            search the library
  download <songID>...      download songs into the local cache
  status <songID>...        show cache status for songs
  scrobble <songID>         submit a play to the server
  clear-cache [--all]       delete cached song files (--all wipes metadata too)
`

func main() {
	var showVersion bool
	var offline bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&offline, "offline", false, "do not contact the server")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if showVersion {
		fmt.Printf("cadenza %s\n", Version)
		return
	}

	if err := run(offline, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(offline bool, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.Setup(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.Null()
	}
	slog.SetDefault(logger)

	logger.Info("starting cadenza", "version", Version)

	if !cfg.IsConfigured() {
		return fmt.Errorf("no server configured; set server.url and server.username in the config file")
	}

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	ground, err := subsonic.New(cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("failed to create server adapter: %w", err)
	}
	cache, err := boltcache.New(cfg.Cache.Dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}

	mgr := manager.New(ground, cache, cfg.Downloads, logger)
	defer mgr.Shutdown()

	if err := mgr.InitialSync(context.Background()); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}
	mgr.SetOfflineMode(offline || cfg.Offline)

	switch cmd, rest := args[0], args[1:]; cmd {
	case "playlists":
		return cmdPlaylists(mgr)
	case "playlist":
		if len(rest) != 1 {
			return fmt.Errorf("usage: cadenza playlist <id>")
		}
		return cmdPlaylist(mgr, rest[0])
	case "albums":
		listType := "alphabeticalByName"
		if len(rest) > 0 {
			listType = rest[0]
		}
		return cmdAlbums(mgr, listType)
	case "search":
		if len(rest) == 0 {
			return fmt.Errorf("usage: cadenza search <query>")
		}
		return cmdSearch(mgr, strings.Join(rest, " "))
	case "download":
		if len(rest) == 0 {
			return fmt.Errorf("usage: cadenza download <songID>...")
		}
		return cmdDownload(mgr, rest)
	case "status":
		if len(rest) == 0 {
			return fmt.Errorf("usage: cadenza status <songID>...")
		}
		return cmdStatus(mgr, rest)
	case "scrobble":
		if len(rest) != 1 {
			return fmt.Errorf("usage: cadenza scrobble <songID>")
		}
		_, err := mgr.ScrobbleSong(rest[0]).Get()
		return err
	case "clear-cache":
		all := len(rest) > 0 && rest[0] == "--all"
		return cmdClearCache(mgr, all)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdPlaylists(mgr *manager.Manager) error {
	playlists, err := mgr.GetPlaylists(false).Get()
	if err != nil {
		return err
	}
	for _, p := range playlists {
		fmt.Printf("%-12s %-40s %4d songs\n", p.ID, p.Name, p.SongCount)
	}
	return nil
}

func cmdPlaylist(mgr *manager.Manager, id string) error {
	playlist, err := mgr.GetPlaylistDetails(id, false).Get()
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d songs)\n", playlist.Name, playlist.SongCount)
	for _, s := range playlist.Songs {
		artist := ""
		if s.Artist != nil {
			artist = s.Artist.Name
		}
		fmt.Printf("  %-12s %-40s %-25s %s\n", s.ID, s.Title, artist, s.FormattedDuration())
	}
	return nil
}

func cmdAlbums(mgr *manager.Manager, listType string) error {
	query, err := parseAlbumQuery(listType)
	if err != nil {
		return err
	}
	albums, err := mgr.GetAlbums(query, false).Get()
	if err != nil {
		return err
	}
	for _, a := range albums {
		artist := ""
		if a.Artist != nil {
			artist = a.Artist.Name
		}
		year := ""
		if a.Year > 0 {
			year = strconv.Itoa(a.Year)
		}
		fmt.Printf("%-12s %-40s %-25s %s\n", a.ID, a.Name, artist, year)
	}
	return nil
}

func parseAlbumQuery(listType string) (domain.AlbumQuery, error) {
	types := map[string]domain.AlbumQueryType{
		"random":               domain.AlbumQueryRandom,
		"newest":               domain.AlbumQueryNewest,
		"frequent":             domain.AlbumQueryFrequent,
		"recent":               domain.AlbumQueryRecent,
		"starred":              domain.AlbumQueryStarred,
		"alphabeticalByName":   domain.AlbumQueryAlphabeticalByName,
		"alphabeticalByArtist": domain.AlbumQueryAlphabeticalByArtist,
	}
	t, ok := types[listType]
	if !ok {
		return domain.AlbumQuery{}, fmt.Errorf("unknown album list type %q", listType)
	}
	return domain.AlbumQuery{Type: t}, nil
}

func cmdSearch(mgr *manager.Manager, query string) error {
	var final *domain.SearchResult
	if _, err := mgr.Search(query, func(result *domain.SearchResult) {
		final = result
	}).Get(); err != nil {
		return err
	}
	if final == nil {
		return nil
	}
	for _, artist := range final.Artists() {
		fmt.Printf("artist    %-12s %s\n", artist.ID, artist.Name)
	}
	for _, album := range final.Albums() {
		fmt.Printf("album     %-12s %s\n", album.ID, album.Name)
	}
	for _, song := range final.Songs() {
		fmt.Printf("song      %-12s %s\n", song.ID, song.Title)
	}
	for _, playlist := range final.Playlists() {
		fmt.Printf("playlist  %-12s %s\n", playlist.ID, playlist.Name)
	}
	return nil
}

func cmdDownload(mgr *manager.Manager, songIDs []string) error {
	bars := make(map[string]*progressbar.ProgressBar, len(songIDs))
	for _, id := range songIDs {
		bars[id] = progressbar.DefaultBytes(-1, id)
	}
	ok, err := mgr.BatchDownloadSongs(songIDs, func(songID string, p domain.DownloadProgress) {
		bar := bars[songID]
		switch p.Event {
		case domain.DownloadProgressed:
			bar.ChangeMax64(p.TotalBytes)
			bar.Set64(p.CurrentBytes)
		case domain.DownloadDone:
			bar.Finish()
		case domain.DownloadError:
			fmt.Fprintf(os.Stderr, "\n%s: %v\n", songID, p.Err)
		}
	}).Get()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("some downloads failed")
	}
	return nil
}

func cmdStatus(mgr *manager.Manager, songIDs []string) error {
	statuses := mgr.GetCachedStatuses(songIDs)
	for _, id := range songIDs {
		fmt.Printf("%-12s %s\n", id, statuses[id])
	}
	return nil
}

func cmdClearCache(mgr *manager.Manager, all bool) error {
	if all {
		return mgr.ClearEntireCache()
	}
	return mgr.ClearSongCache()
}
