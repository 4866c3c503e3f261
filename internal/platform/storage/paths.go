package storage

import (
	"fmt"
	"strings"
)

// ProductImagePath composes the object key for a product image upload.
func ProductImagePath(productID, imageID, fileName string) (string, error) {
	pid, err := validateSegment("productID", productID)
	if err != nil {
		return "", err
	}
	iid, err := validateSegment("imageID", imageID)
	if err != nil {
		return "", err
	}
	name, err := validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("products/%s/images/%s/%s", pid, iid, name), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
