package contacts

import "time"

// Sample returns the built-in demo contact list used for trying the
// tool without uploading real customer data.
func Sample() []Recipient {
	mk := func(name, phone, address, purchase string, spent float64) Recipient {
		t, _ := time.Parse(DateLayout, purchase)
		return Recipient{
			Name:         name,
			Phone:        phone,
			Address:      address,
			LastPurchase: &t,
			TotalSpent:   &spent,
		}
	}

	return []Recipient{
		mk("John Smith", "+1234567890", "123 Main St, New York", "2023-10-15", 350),
		mk("Emma Johnson", "+1987654321", "456 Oak Ave, New York", "2023-11-20", 520),
		mk("Michael Brown", "+1122334455", "789 Pine Rd, Boston", "2023-12-05", 210),
		mk("Sophia Williams", "+1555666777", "101 Maple Dr, Chicago", "2024-01-10", 780),
		mk("James Davis", "+1999888777", "202 Cedar Ln, Boston", "2024-02-25", 150),
		mk("Olivia Miller", "+1777888999", "303 Birch St, New York", "2024-03-15", 430),
	}
}
