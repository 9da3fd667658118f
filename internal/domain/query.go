package domain

// Page описывает 1-based пагинацию списочных запросов.
type Page struct {
	Number int
	Size   int
}

const (
	defaultPageNumber = 1
	defaultPageSize   = 10
)

// Normalize приводит некорректные значения к значениям по умолчанию.
// Невалидные параметры списков не отклоняются, а тихо заменяются.
func (p Page) Normalize() Page {
	if p.Number <= 0 {
		p.Number = defaultPageNumber
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	return p
}

// Offset возвращает смещение первой записи страницы.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// OrderSort — ключ сортировки списка заказов.
type OrderSort string

const (
	OrderSortDateAsc   OrderSort = "date_asc"
	OrderSortDateDesc  OrderSort = "date_desc"
	OrderSortPriceAsc  OrderSort = "price_asc"
	OrderSortPriceDesc OrderSort = "price_desc"
)

// Normalize возвращает date_desc для пустого или неизвестного ключа.
func (s OrderSort) Normalize() OrderSort {
	switch s {
	case OrderSortDateAsc, OrderSortDateDesc, OrderSortPriceAsc, OrderSortPriceDesc:
		return s
	default:
		return OrderSortDateDesc
	}
}

// OrderFilter описывает фильтр списка заказов. Временные границы —
// epoch в миллисекундах, включительно; ноль означает "не задано".
type OrderFilter struct {
	Status     OrderStatus
	FromMillis int64
	ToMillis   int64
}

// ProductSort — ключ сортировки каталога товаров.
type ProductSort string

const (
	ProductSortPriceAsc  ProductSort = "price_asc"
	ProductSortPriceDesc ProductSort = "price_desc"
	// ProductSortDefault — сортировка по идентификатору по возрастанию.
	ProductSortDefault ProductSort = ""
)

// Normalize возвращает сортировку по умолчанию для неизвестного ключа.
func (s ProductSort) Normalize() ProductSort {
	switch s {
	case ProductSortPriceAsc, ProductSortPriceDesc:
		return s
	default:
		return ProductSortDefault
	}
}

// ProductFilter описывает фильтр каталога.
type ProductFilter struct {
	Category string
}
