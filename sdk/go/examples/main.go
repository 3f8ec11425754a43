// Command examples walks one agreement through its lifecycle against a running
// creatord. The client and provider keys must both be loaded in the daemon's
// keyring.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"CreatorServices/sdk/go/creator"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "creatord base URL")
	clientAccount := flag.String("client", "", "client account address")
	providerAccount := flag.String("provider", "", "provider account address")
	amount := flag.String("amount", "0.01", "escrow amount")
	flag.Parse()

	if *clientAccount == "" || *providerAccount == "" {
		log.Fatal("both -client and -provider are required")
	}

	c, err := creator.NewClient(*addr, nil)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := c.Connect(ctx, *clientAccount); err != nil {
		log.Fatal(err)
	}
	check, err := c.CheckFunds(ctx, *amount)
	if err != nil {
		log.Fatal(err)
	}
	if !check.Sufficient {
		log.Fatalf("cannot fund %s %s: %s (balance %s)", *amount, check.Currency, check.Reason, check.Balance)
	}

	receipt, err := c.CreateAgreement(ctx, creator.NewAgreement{Provider: *providerAccount, Amount: *amount, Title: "SDK demo"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("created agreement %d in tx %s\n", receipt.AgreementID, receipt.TxHash)

	if _, err := c.Connect(ctx, *providerAccount); err != nil {
		log.Fatal(err)
	}
	if _, err := c.Respond(ctx, receipt.AgreementID, true); err != nil {
		log.Fatal(err)
	}
	if _, err := c.MarkCompleted(ctx, receipt.AgreementID); err != nil {
		log.Fatal(err)
	}

	if _, err := c.Connect(ctx, *clientAccount); err != nil {
		log.Fatal(err)
	}
	if _, err := c.SubmitRating(ctx, *providerAccount, 5); err != nil {
		log.Fatal(err)
	}
	agg, err := c.Aggregate(ctx, *providerAccount)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("provider %s: %s\n", *providerAccount, agg.Summary.Label)
}
