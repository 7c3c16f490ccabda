package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"toolshare/lending"
)

func main() {
	if err := newSeedCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newSeedCmd() *cobra.Command {
	var dbPath, password string
	cmd := &cobra.Command{
		Use:          "seed_catalog",
		Short:        "Reset the database and load the demo neighborhood catalog",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), dbPath, password)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "toolshare.db", "SQLite database path")
	cmd.Flags().StringVar(&password, "password", "toolshare", "password given to every demo account")
	return cmd
}

func seed(ctx context.Context, dbPath, password string) error {
	// Clean up any existing database files
	fmt.Println("Cleaning up existing database files...")
	for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
		}
	}

	db, err := lending.NewDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	for _, c := range demoCategories {
		if err := db.InsertCategory(ctx, c); err != nil {
			return fmt.Errorf("category %s: %w", c.Name, err)
		}
	}
	for _, u := range demoUsers {
		if err := db.InsertUser(ctx, u, "12345", hash); err != nil {
			return fmt.Errorf("user %s: %w", u.Name, err)
		}
		fmt.Printf("Account: %-16s %s\n", u.Name, u.Email)
	}
	for _, t := range demoTools {
		t.Available = lending.ComputeAvailability(t, demoReservations)
		if err := db.InsertTool(ctx, t); err != nil {
			return fmt.Errorf("tool %s: %w", t.Name, err)
		}
	}
	for _, r := range demoReservations {
		if err := db.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("reservation %s: %w", r.ID, err)
		}
	}

	// Reload through the Store so the summary shows reconciled counts.
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	store := lending.NewStore(lending.WithSnapshot(snap))

	fmt.Printf("\nSeed complete! Demo password: %s\n\n", password)
	fmt.Printf("%-3s %-25s %-20s %-10s\n", "ID", "Tool", "Owner", "Available")
	fmt.Println(strings.Repeat("-", 62))
	for _, t := range store.Tools() {
		fmt.Printf("%-3s %-25s %-20s %-10t\n", t.ID, t.Name, t.Owner, t.Available)
	}
	return nil
}

func date(s string) time.Time {
	t, err := lending.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

var demoCategories = []lending.Category{
	{ID: "1", Name: "Power Tools", Icon: "drill"},
	{ID: "2", Name: "Hand Tools", Icon: "hammer"},
	{ID: "3", Name: "Garden Tools", Icon: "shovel"},
	{ID: "4", Name: "Painting Supplies", Icon: "paintbrush"},
	{ID: "5", Name: "Cleaning Equipment", Icon: "spray-bottle"},
	{ID: "6", Name: "Ladders & Scaffolding", Icon: "ladder"},
	{ID: "7", Name: "Measuring Tools", Icon: "ruler"},
	{ID: "8", Name: "Woodworking", Icon: "saw"},
}

var demoUsers = []lending.User{
	{ID: "1", Name: "Jane Smith", Email: "jane.smith@example.com", Neighborhood: "Greenfield", ToolsBorrowed: 3, MemberSince: date("2023-11-15")},
	{ID: "2", Name: "Mike Johnson", Email: "mike.johnson@example.com", Neighborhood: "Greenfield", ToolsBorrowed: 5, MemberSince: date("2023-10-20")},
	{ID: "3", Name: "Sarah Williams", Email: "sarah.williams@example.com", Neighborhood: "Greenfield", ToolsBorrowed: 2, MemberSince: date("2024-01-05")},
	{ID: "4", Name: "David Brown", Email: "david.brown@example.com", Neighborhood: "Greenfield", MemberSince: date("2023-12-10")},
	{ID: "5", Name: "Lisa Chen", Email: "lisa.chen@example.com", Neighborhood: "Greenfield", ToolsBorrowed: 4, MemberSince: date("2024-01-30")},
}

var demoTools = []lending.Tool{
	{ID: "1", Name: "Cordless Drill", CategoryID: "1", Description: "DeWalt 20V MAX cordless drill with two batteries and charger.",
		Condition: lending.ConditionExcellent, Owner: "Jane Smith", OwnerID: "1", AddedDate: date("2024-05-15"), LastBorrowed: datePtr("2024-06-01"), TimesLoaned: 3},
	{ID: "2", Name: "Circular Saw", CategoryID: "1", Description: `Makita 7-1/4" circular saw, perfect for cutting lumber and plywood.`,
		Condition: lending.ConditionGood, Owner: "Mike Johnson", OwnerID: "2", AddedDate: date("2024-04-20"), LastBorrowed: datePtr("2024-06-05"), TimesLoaned: 2},
	{ID: "3", Name: "Garden Hoe", CategoryID: "3", Description: "Standard garden hoe with wooden handle, great for weeding and cultivating soil.",
		Condition: lending.ConditionGood, Owner: "Sarah Williams", OwnerID: "3", AddedDate: date("2024-03-10"), LastBorrowed: datePtr("2024-05-20"), TimesLoaned: 1},
	{ID: "4", Name: "Hammer", CategoryID: "2", Description: "Stanley 16oz claw hammer with fiberglass handle.",
		Condition: lending.ConditionExcellent, Owner: "David Brown", OwnerID: "4", AddedDate: date("2024-02-15"), TimesLoaned: 5},
	{ID: "5", Name: "Extension Ladder", CategoryID: "6", Description: "24ft aluminum extension ladder, reaches up to 21ft. Good for two-story buildings.",
		Condition: lending.ConditionGood, Owner: "Mike Johnson", OwnerID: "2", AddedDate: date("2023-12-10"), LastBorrowed: datePtr("2024-04-15"), TimesLoaned: 4},
	{ID: "6", Name: "Paint Roller Set", CategoryID: "4", Description: "Complete paint roller set with tray, two roller covers, and extension pole.",
		Condition: lending.ConditionFair, Owner: "Lisa Chen", OwnerID: "5", AddedDate: date("2024-01-20"), LastBorrowed: datePtr("2024-06-07"), TimesLoaned: 3},
	{ID: "7", Name: "Pressure Washer", CategoryID: "5", Description: "Electric pressure washer, 1800 PSI, perfect for cleaning decks, siding, and driveways.",
		Condition: lending.ConditionExcellent, Owner: "Jane Smith", OwnerID: "1", AddedDate: date("2024-05-01"), TimesLoaned: 1},
	{ID: "8", Name: "Tape Measure", CategoryID: "7", Description: "Stanley 25ft tape measure with auto-lock feature.",
		Condition: lending.ConditionExcellent, Owner: "David Brown", OwnerID: "4", AddedDate: date("2024-03-05"), TimesLoaned: 7},
}

var demoReservations = []lending.Reservation{
	{ID: "1", ToolID: "2", UserID: "1", StartDate: date("2024-06-05"), EndDate: date("2024-06-12"), Status: lending.StatusActive, Created: date("2024-06-04")},
	{ID: "2", ToolID: "6", UserID: "2", StartDate: date("2024-06-07"), EndDate: date("2024-06-14"), Status: lending.StatusActive, Created: date("2024-06-06")},
	{ID: "3", ToolID: "1", UserID: "3", StartDate: date("2024-05-25"), EndDate: date("2024-06-01"), Status: lending.StatusCompleted, Created: date("2024-05-24")},
	{ID: "4", ToolID: "3", UserID: "4", StartDate: date("2024-05-15"), EndDate: date("2024-05-20"), Status: lending.StatusCompleted, Created: date("2024-05-14")},
	{ID: "5", ToolID: "5", UserID: "5", StartDate: date("2024-04-10"), EndDate: date("2024-04-15"), Status: lending.StatusCompleted, Created: date("2024-04-09")},
	{ID: "6", ToolID: "8", UserID: "1", StartDate: date("2024-06-15"), EndDate: date("2024-06-22"), Status: lending.StatusPending, Created: date("2024-06-10")},
}
