package example

type Category string

const (
	CategoryBusinessIncome  Category = "business_income"
	CategoryBusinessExpense Category = "business_expense"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
)

// Reference is a named string without constants, so it is not an enum.
type Reference string

type Classification struct {
	Category Category
	Reason   string
}

type Transaction struct {
	Direction Direction
	Reference Reference
}

func bad() {
	c := &Classification{}
	c.Category = "business_income" // want "enum field Category assigned string literal"

	_ = Transaction{Direction: "debit"} // want "enum field Direction assigned string literal"
}

func good() {
	c := &Classification{}
	c.Category = CategoryBusinessExpense
	c.Reason = "rules: no keyword matched"

	_ = Transaction{Direction: DirectionCredit, Reference: "ref_123"}

	var raw = "personal"
	c.Category = Category(raw)
}
