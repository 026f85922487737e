package cache

import "fmt"

func OracleURLKey(chainID int64, oracleAddress string) string {
	return fmt.Sprintf("oracle:url:%d:%s", chainID, oracleAddress)
}
