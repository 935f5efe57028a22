package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"strings"

	"digistore/internal/config"
	"digistore/internal/db"
	"digistore/internal/secrets"
	"digistore/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reads one credential payload per line on stdin and ingests each as an
// available inventory unit for the given product, sealed at rest.
func main() {
	productFlag := flag.String("product", "", "product id to attach units to")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	productID, err := uuid.Parse(*productFlag)
	if err != nil {
		log.Fatal("invalid -product id", zap.Error(err))
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	box, err := secrets.NewBox(cfg.Orders.CredentialKey)
	if err != nil {
		log.Fatal("credential key invalid", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	if _, err := st.GetProduct(ctx, productID); err != nil {
		log.Fatal("product lookup failed", zap.String("product_id", productID.String()), zap.Error(err))
	}

	var ingested int
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		sealed, err := box.Seal([]byte(line))
		if err != nil {
			log.Fatal("seal failed", zap.Error(err))
		}
		unitID, err := st.AddInventoryUnit(ctx, productID, sealed)
		if err != nil {
			log.Fatal("insert unit failed", zap.Error(err))
		}
		log.Info("unit ingested", zap.String("unit_id", unitID.String()))
		ingested++
	}
	if err := scanner.Err(); err != nil {
		log.Fatal("read stdin failed", zap.Error(err))
	}

	available, err := st.CountAvailable(ctx, productID)
	if err != nil {
		log.Fatal("count available failed", zap.Error(err))
	}
	log.Info("done",
		zap.String("product_id", productID.String()),
		zap.Int("ingested", ingested),
		zap.Int("available", available))
}
