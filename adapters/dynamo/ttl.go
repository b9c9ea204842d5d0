package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired reports whether item carries a TTL attribute at or before now.
// DynamoDB removes expired items lazily, so they stay readable for a while.
func IsExpired(item map[string]types.AttributeValue, ttlField string, now time.Time) bool {
	ttlAttr, exists := item[ttlField]
	if !exists {
		return false // No TTL = active
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// ttlFilterExpr excludes expired items from a Scan.
const ttlFilterExpr = "attribute_not_exists(#ttl) OR #ttl > :now"

func ttlFilterNames(ttlField string) map[string]string {
	return map[string]string{"#ttl": ttlField}
}

func ttlFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Unix(), 10),
		},
	}
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
