package model

import "sort"

// Имена коллекций.
const (
	CollectionTests        = "tests"
	CollectionUsers        = "users"
	CollectionProducts     = "products"
	CollectionTransactions = "transactions"
)

// Поля коллекции users, используемые сервисом аккаунтов.
const (
	FieldEmail        = "email"
	FieldPasswordHash = "password_hash"
	FieldRoles        = "roles"
)

// Статусы транзакции.
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionCancelled = "cancelled"
)

var registry = map[string]*Collection{
	CollectionTests: {
		Name:          CollectionTests,
		NameField:     "test",
		RequireAssets: true,
	},
	CollectionUsers: {
		Name:          CollectionUsers,
		NameField:     "name",
		RequireAssets: true,
		Fields: []Field{
			{Name: FieldEmail, Kind: KindString, Required: true},
			{Name: FieldPasswordHash, Kind: KindString, Required: true},
			{Name: FieldRoles, Kind: KindStringList, Default: []string{"customer"}},
		},
		Hidden: []string{FieldPasswordHash},
		Dependents: []Dependent{
			{Collection: CollectionProducts, ForeignKey: "user"},
			{Collection: CollectionTransactions, ForeignKey: "user"},
		},
	},
	CollectionProducts: {
		Name:          CollectionProducts,
		NameField:     "product_name",
		RequireAssets: true,
		Fields: []Field{
			{Name: "price", Kind: KindNumber, Required: true},
			{Name: "description", Kind: KindString},
			{Name: "user", Kind: KindRef, Required: true},
		},
		Dependents: []Dependent{
			{Collection: CollectionTransactions, ForeignKey: "product"},
		},
	},
	CollectionTransactions: {
		Name: CollectionTransactions,
		Fields: []Field{
			{Name: "user", Kind: KindRef, Required: true},
			{Name: "product", Kind: KindRefList, Required: true},
			{
				Name:    "status",
				Kind:    KindString,
				Enum:    []string{TransactionPending, TransactionCompleted, TransactionCancelled},
				Default: TransactionPending,
			},
			{Name: "date", Kind: KindDate, Required: true},
		},
		Populate: []Populate{
			{
				Field:       "user",
				Collection:  CollectionUsers,
				Select:      []string{"name"},
				WriteSelect: []string{"name", FieldEmail},
			},
			{
				Field:      "product",
				Collection: CollectionProducts,
				Select:     []string{"product_name", "price", AssetsField},
			},
		},
	},
}

// Lookup возвращает схему коллекции по имени.
func Lookup(name string) (*Collection, bool) {
	c, ok := registry[name]
	return c, ok
}

// Collections возвращает все зарегистрированные коллекции, отсортированные по имени.
func Collections() []*Collection {
	out := make([]*Collection, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
