package backend

import "fmt"

// DemoPassword is the password of every seeded demo account.
const DemoPassword = "password"

// SeedDemo creates two demo users and a few unread conversations.
func SeedDemo(state *State) error {
	alice, err := state.CreateUser("alice@example.com", DemoPassword, "Alice", "Liddell")
	if err != nil {
		return fmt.Errorf("seed alice: %w", err)
	}
	bob, err := state.CreateUser("bob@example.com", DemoPassword, "Bob", "Builder")
	if err != nil {
		return fmt.Errorf("seed bob: %w", err)
	}
	state.SetUnread(alice.ID, "general", 3)
	state.SetUnread(alice.ID, "bob", 2)
	state.SetUnread(bob.ID, "general", 1)
	return nil
}
