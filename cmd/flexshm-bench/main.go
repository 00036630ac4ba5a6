// Command flexshm-bench exercises a flexshm exchange from the command
// line: one process runs as the producer, any number of others attach
// as consumers against the same named region.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fherb2/flexible-shared-memory/flexshm"
	"github.com/fherb2/flexible-shared-memory/internal/xlog"
)

func main() {
	mode := flag.String("mode", "producer", "producer or consumer")
	name := flag.String("name", "flexshm-bench", "region name")
	slots := flag.Uint("slots", 1, "slot count (1 = latest-wins, >1 = FIFO ring)")
	count := flag.Uint("count", 10, "number of records to write/read")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between writes/reads")
	latest := flag.Bool("latest", true, "consumer: read latest instead of draining FIFO")
	flag.Parse()

	logger := xlog.Default("flexshm-bench")

	fields := []flexshm.FieldDecl{
		{Name: "seq", Token: "i32"},
		{Name: "reading", Token: "f64"},
		{Name: "tag", Token: "str[16]"},
	}

	switch *mode {
	case "producer":
		runProducer(logger, *name, uint32(*slots), uint32(*count), *interval, fields)
	case "consumer":
		runConsumer(logger, *name, uint32(*slots), uint32(*count), *interval, *latest, fields)
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q (want producer or consumer)\n", *mode)
		os.Exit(1)
	}
}

func runProducer(logger *xlog.Logger, name string, slots, count uint32, interval time.Duration, fields []flexshm.FieldDecl) {
	ex, err := flexshm.New(flexshm.ExchangeOptions{
		Name:      name,
		Fields:    fields,
		Create:    true,
		SlotCount: slots,
		Logger:    logger.With("producer"),
	})
	if err != nil {
		logger.Error("create failed", xlog.Err(err))
		os.Exit(1)
	}
	defer ex.Close()
	defer ex.Unlink()

	logger.Info("producer ready", xlog.String("region", name), xlog.Uint32("slots", slots))

	for i := uint32(0); i < count; i++ {
		err := ex.Write(map[string]interface{}{
			"seq":     int32(i),
			"reading": 20.0 + float64(i)*0.1,
			"tag":     uuid.NewString()[:8],
		})
		if err != nil {
			logger.Error("write failed", xlog.Err(err))
			os.Exit(1)
		}
		if slots > 1 {
			if err := ex.Finalize(); err != nil {
				logger.Error("finalize failed", xlog.Err(err))
				os.Exit(1)
			}
		}
		logger.Info("published", xlog.Uint32("seq", i))
		time.Sleep(interval)
	}
}

func runConsumer(logger *xlog.Logger, name string, slots, count uint32, interval time.Duration, latest bool, fields []flexshm.FieldDecl) {
	ex, err := flexshm.New(flexshm.ExchangeOptions{
		Name:      name,
		Fields:    fields,
		Create:    false,
		SlotCount: slots,
		Logger:    logger.With("consumer"),
	})
	if err != nil {
		logger.Error("attach failed", xlog.Err(err))
		os.Exit(1)
	}
	defer ex.Close()

	for i := uint32(0); i < count; i++ {
		snap, err := ex.Read(5*time.Second, latest, false)
		if err != nil {
			logger.Error("read failed", xlog.Err(err))
			os.Exit(1)
		}
		logger.Info("consumed",
			xlog.Uint64("write_id", snap.WriteID),
			xlog.String("seq_status", snap.Fields["seq"].Status.String()),
		)
		time.Sleep(interval)
	}
}
