// svctl is a small operator CLI against a running streamvaultd.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

const defaultAPI = "http://127.0.0.1:8080"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "analyze":
		cmdAnalyze(os.Args[2:])
	case "add":
		cmdAdd(os.Args[2:])
	case "list":
		cmdList(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	case "remove":
		cmdRemove(os.Args[2:])
	case "clear":
		cmdClear(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: svctl <command> [flags]

commands:
  analyze URL            inspect a URL (video or playlist)
  add URL                submit a download
  list                   list downloads
  stats                  show download statistics
  remove ID              delete a download
  clear                  clear download history`)
}

func apiFlag(fs *flag.FlagSet) *string {
	return fs.String("api", envOr("SVCTL_API", defaultAPI), "base URL of the streamvaultd API")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func cmdAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	apiBase := apiFlag(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatal("analyze requires exactly one URL")
	}
	var out map[string]any
	if err := postJSON(*apiBase+"/api/analyze", map[string]string{"url": fs.Arg(0)}, &out); err != nil {
		fatal(err.Error())
	}
	printJSON(out)
}

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	apiBase := apiFlag(fs)
	quality := fs.String("quality", "", "height ceiling in pixels, or best")
	format := fs.String("format", "", "mp4, mp3 or best")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatal("add requires exactly one URL")
	}
	body := map[string]any{"url": fs.Arg(0)}
	if *quality != "" {
		body["quality"] = *quality
	}
	if *format != "" {
		body["format"] = *format
	}
	var out struct {
		VideoID string `json:"video_id"`
		Status  string `json:"status"`
	}
	if err := postJSON(*apiBase+"/api/download", body, &out); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("%s %s\n", out.Status, out.VideoID)
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	apiBase := apiFlag(fs)
	_ = fs.Parse(args)
	var downloads []struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
		Speed    string  `json:"speed"`
		ETA      string  `json:"eta"`
		FileSize int64   `json:"file_size"`
	}
	if err := getJSON(*apiBase+"/api/downloads", &downloads); err != nil {
		fatal(err.Error())
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSPEED\tETA\tSIZE\tTITLE")
	for _, d := range downloads {
		size := ""
		if d.FileSize > 0 {
			size = humanize.Bytes(uint64(d.FileSize))
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\t%s\t%s\n",
			shortID(d.ID), d.Status, d.Progress, d.Speed, d.ETA, size, d.Title)
	}
	_ = w.Flush()
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	apiBase := apiFlag(fs)
	_ = fs.Parse(args)
	var stats struct {
		TotalDownloads  int   `json:"total_downloads"`
		ActiveDownloads int   `json:"active_downloads"`
		DoneDownloads   int   `json:"done_downloads"`
		TotalSize       int64 `json:"total_size"`
	}
	if err := getJSON(*apiBase+"/api/stats", &stats); err != nil {
		fatal(err.Error())
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\n", stats.TotalDownloads)
	fmt.Fprintf(w, "active\t%d\n", stats.ActiveDownloads)
	fmt.Fprintf(w, "done\t%d\n", stats.DoneDownloads)
	fmt.Fprintf(w, "size\t%s\n", humanize.Bytes(uint64(stats.TotalSize)))
	_ = w.Flush()
}

func cmdRemove(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	apiBase := apiFlag(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatal("remove requires exactly one ID")
	}
	if err := deleteJSON(*apiBase + "/api/downloads/" + fs.Arg(0)); err != nil {
		fatal(err.Error())
	}
	fmt.Println("ok")
}

func cmdClear(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	apiBase := apiFlag(fs)
	_ = fs.Parse(args)
	if err := deleteJSON(*apiBase + "/api/downloads"); err != nil {
		fatal(err.Error())
	}
	fmt.Println("ok")
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "svctl: "+msg)
	os.Exit(1)
}
