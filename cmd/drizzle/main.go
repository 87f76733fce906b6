package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/log"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/cenkalti/drizzle"
	"github.com/cenkalti/drizzle/internal/jsonutil"
	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/metainfo"
)

var app = cli.NewApp()

func main() {
	app.Name = "drizzle"
	app.Usage = "BitTorrent download client"
	app.Version = drizzle.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/.drizzle/config.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download a torrent",
			ArgsUsage: "<torrent file>",
			Action:    handleDownload,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "dest",
					Usage: "write downloaded file into `DIR`",
				},
				cli.IntFlag{
					Name:  "workers",
					Usage: "number of peers to download from at the same time",
				},
			},
		},
		{
			Name:      "info",
			Usage:     "show the contents of a torrent file",
			ArgsUsage: "<torrent file>",
			Action:    handleInfo,
		},
		{
			Name:      "create",
			Usage:     "create a torrent file",
			ArgsUsage: "<file>",
			Action:    handleCreate,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Usage: "write torrent to `FILE`, default is <file>.torrent",
				},
				cli.StringFlag{
					Name:  "tracker, t",
					Usage: "announce `URL` of the tracker",
				},
				cli.UintFlag{
					Name:  "piece-length",
					Usage: "piece length in bytes",
					Value: 256 << 10,
				},
			},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	logger.SetDebug(c.GlobalBool("debug"))
	return nil
}

func handleDownload(c *cli.Context) error {
	arg := c.Args().Get(0)
	if arg == "" {
		return cli.NewExitError("torrent file is required", 1)
	}
	cfg, err := drizzle.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if dest := c.String("dest"); dest != "" {
		cfg.DataDir = dest
	}
	if workers := c.Int("workers"); workers > 0 {
		cfg.Workers = workers
	}

	clt, err := drizzle.NewClient(*cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := clt.Close(); cerr != nil {
			log.Errorln("cannot close client:", cerr)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := clt.Download(ctx, arg)
	if res != nil {
		s := res.Stats
		fmt.Printf("Pieces: %d/%d, downloaded: %s, wasted: %s, validation failures: %d, peers: %d connected %d failed, took %s\n",
			s.PiecesTotal-s.PiecesMissing, s.PiecesTotal,
			humanize.IBytes(uint64(s.BytesDownloaded)), humanize.IBytes(uint64(s.BytesWasted)),
			s.ValidationFailures, s.PeersConnected, s.PeersFailed, res.Duration)
		if res.Path != "" {
			fmt.Println("Saved to", res.Path)
		}
	}
	return err
}

func handleInfo(c *cli.Context) error {
	f, err := os.Open(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	mi, err := metainfo.New(f)
	if err != nil {
		return err
	}
	info := struct {
		Name        string
		Announce    string
		InfoHash    string `structs:"Info Hash"`
		Length      string
		PieceLength string `structs:"Piece Length"`
		NumPieces   uint32 `structs:"Pieces"`
	}{
		Name:        mi.Name,
		Announce:    mi.Announce,
		InfoHash:    hex.EncodeToString(mi.InfoHash[:]),
		Length:      fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(mi.Length)), mi.Length),
		PieceLength: humanize.IBytes(uint64(mi.PieceLength)),
		NumPieces:   mi.NumPieces(),
	}
	b, err := jsonutil.MarshalFields(info, true)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

func handleCreate(c *cli.Context) error {
	path := c.Args().Get(0)
	tracker := c.String("tracker")
	if path == "" || tracker == "" {
		return cli.NewExitError("file and tracker are required", 1)
	}
	out := c.String("out")
	if out == "" {
		out = path + ".torrent"
	}
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	b, err := metainfo.NewBytes(fi.Name(), f, uint32(c.Uint("piece-length")), tracker)
	if err != nil {
		return err
	}
	err = os.WriteFile(out, b, 0640)
	if err != nil {
		return err
	}
	fmt.Println("Created", out)
	return nil
}
