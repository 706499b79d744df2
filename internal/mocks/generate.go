package mocks

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name Gateway --dir ../domain/remote --output domain/remote --outpkg remotemock --filename gateway_mock.go
//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name ConflictResolver --dir ../usecase --output usecase --outpkg usecasemock --filename conflict_resolver_mock.go
